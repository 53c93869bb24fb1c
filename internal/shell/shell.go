// Package shell serves the embedded page: markup, stylesheet, script, web
// manifest and the generated app icons.
package shell

import (
	"bytes"
	"embed"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

//go:embed assets
var assets embed.FS

// Files returns the embedded asset tree rooted at the page directory.
func Files() fs.FS {
	sub, err := fs.Sub(assets, "assets")
	if err != nil {
		panic(err)
	}
	return sub
}

// IconSizes lists the square icon sizes referenced by the web manifest.
var IconSizes = []int{192, 512}

var (
	iconOnce sync.Once
	icons    map[int][]byte
	iconErr  error
)

// Icon returns the PNG icon of the given size.
func Icon(size int) ([]byte, error) {
	iconOnce.Do(func() {
		icons = make(map[int][]byte, len(IconSizes))
		master := drawMaster(1024)
		for _, s := range IconSizes {
			dst := image.NewRGBA(image.Rect(0, 0, s, s))
			draw.CatmullRom.Scale(dst, dst.Bounds(), master, master.Bounds(), draw.Over, nil)
			var buf bytes.Buffer
			if err := png.Encode(&buf, dst); err != nil {
				iconErr = fmt.Errorf("failed to encode icon %d: %w", s, err)
				return
			}
			icons[s] = buf.Bytes()
		}
	})
	if iconErr != nil {
		return nil, iconErr
	}
	b, ok := icons[size]
	if !ok {
		return nil, fmt.Errorf("no icon of size %d", size)
	}
	return b, nil
}

// drawMaster paints the large icon that the served sizes are scaled from: a
// blue tile with a white magnifier.
func drawMaster(n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, n, n))
	blue := color.RGBA{0x15, 0x65, 0xc0, 0xff}
	white := color.RGBA{0xff, 0xff, 0xff, 0xff}
	draw.Draw(img, img.Bounds(), &image.Uniform{blue}, image.Point{}, draw.Src)

	cx, cy := float64(n)*0.42, float64(n)*0.42
	outer, inner := float64(n)*0.24, float64(n)*0.18
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			d2 := dx*dx + dy*dy
			if d2 <= outer*outer && d2 >= inner*inner {
				img.Set(x, y, white)
				continue
			}
			// handle: a thick band along the lower-right diagonal
			u := (float64(x) + float64(y)) / 2
			v := float64(x) - float64(y)
			if u > cx+outer*0.7 && u < float64(n)*0.82 && v > -float64(n)*0.06 && v < float64(n)*0.06 {
				img.Set(x, y, white)
			}
		}
	}
	return img
}

// Handler serves the page assets. "/" and "/index.html" both answer with the
// page itself, without the file server's canonical redirect.
func Handler() http.Handler {
	files := http.FileServerFS(Files())
	started := time.Now()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, s := range IconSizes {
			if r.URL.Path == fmt.Sprintf("/icon-%d.png", s) {
				b, err := Icon(s)
				if err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				w.Header().Set("Content-Type", "image/png")
				http.ServeContent(w, r, r.URL.Path, started, bytes.NewReader(b))
				return
			}
		}
		if r.URL.Path == "/" || r.URL.Path == "/index.html" {
			page, err := fs.ReadFile(Files(), "index.html")
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			http.ServeContent(w, r, "index.html", started, bytes.NewReader(page))
			return
		}
		if strings.HasSuffix(r.URL.Path, ".json") {
			w.Header().Set("Content-Type", "application/manifest+json")
		}
		files.ServeHTTP(w, r)
	})
}
