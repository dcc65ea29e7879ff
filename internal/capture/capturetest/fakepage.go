// Package capturetest provides an in-memory capture.Page for tests.
package capturetest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"strings"
	"sync"

	"github.com/user/article-capture/internal/capture"
)

// Page is a scripted capture.Page. Elements are registered per selector;
// hooks let a test change the DOM in response to clicks and scripts.
type Page struct {
	mu sync.Mutex

	elements map[string][]capture.Element
	boxes    map[string]capture.Rect

	// OnClick runs after every Click or JSClick.
	OnClick func(p *Page, el capture.Element, scripted bool)
	// OnEvaluate answers Evaluate calls; nil results decode as zero values.
	OnEvaluate func(p *Page, script string) (any, error)
	// OnNavigate runs for every Navigate call.
	OnNavigate func(p *Page, url string) error

	ClickErr      map[string]error // keyed by element Ref
	ScreenshotErr error
	ShotData      []byte

	Navigated   []string
	Clicked     []string
	JSClicked   []string
	Keys        []string
	Scripts     []string
	Scrolls     []float64
	Filled      map[string]string
	Screenshots []*capture.Rect
	Closed      bool

	ViewportSize capture.Viewport
}

func New() *Page {
	return &Page{
		elements:     make(map[string][]capture.Element),
		boxes:        make(map[string]capture.Rect),
		ClickErr:     make(map[string]error),
		Filled:       make(map[string]string),
		ViewportSize: capture.Viewport{Width: 1280, Height: 720, Scale: 2},
		ShotData:     NoisePNG(200, 200),
	}
}

// Set registers the elements matched by sel, replacing earlier ones.
func (p *Page) Set(sel capture.Selector, els ...capture.Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[sel.String()] = els
	for _, el := range els {
		p.boxes[el.Ref] = el.Box
	}
}

// Clear removes every element registered for sel.
func (p *Page) Clear(sel capture.Selector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, sel.String())
}

// SetBox overrides the box reported for ref after scrolling.
func (p *Page) SetBox(ref string, box capture.Rect) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.boxes[ref] = box
}

func (p *Page) ClickCount(ref string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range append(append([]string{}, p.Clicked...), p.JSClicked...) {
		if r == ref {
			n++
		}
	}
	return n
}

// Ran reports whether any evaluated script contains fragment.
func (p *Page) Ran(fragment string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.Scripts {
		if strings.Contains(s, fragment) {
			return true
		}
	}
	return false
}

func (p *Page) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	p.Navigated = append(p.Navigated, url)
	hook := p.OnNavigate
	p.mu.Unlock()
	if hook != nil {
		return hook(p, url)
	}
	return nil
}

func (p *Page) WaitReady(ctx context.Context) error { return ctx.Err() }

func (p *Page) Query(_ context.Context, sel capture.Selector) ([]capture.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	els := p.elements[sel.String()]
	return append([]capture.Element(nil), els...), nil
}

func (p *Page) Box(_ context.Context, el capture.Element) (capture.Rect, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	box, ok := p.boxes[el.Ref]
	if !ok {
		return capture.Rect{}, fmt.Errorf("element %s detached", el.Ref)
	}
	return box, nil
}

func (p *Page) Click(_ context.Context, el capture.Element) error {
	return p.click(el, false)
}

func (p *Page) JSClick(_ context.Context, el capture.Element) error {
	return p.click(el, true)
}

func (p *Page) click(el capture.Element, scripted bool) error {
	p.mu.Lock()
	if !scripted {
		if err := p.ClickErr[el.Ref]; err != nil {
			p.mu.Unlock()
			return err
		}
		p.Clicked = append(p.Clicked, el.Ref)
	} else {
		p.JSClicked = append(p.JSClicked, el.Ref)
	}
	hook := p.OnClick
	p.mu.Unlock()
	if hook != nil {
		hook(p, el, scripted)
	}
	return nil
}

func (p *Page) Fill(_ context.Context, el capture.Element, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Filled[el.Ref] = value
	return nil
}

func (p *Page) ScrollIntoView(context.Context, capture.Element) error { return nil }

func (p *Page) ScrollTo(_ context.Context, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Scrolls = append(p.Scrolls, y)
	return nil
}

func (p *Page) PressKey(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Keys = append(p.Keys, key)
	return nil
}

func (p *Page) Evaluate(_ context.Context, script string, out any) error {
	p.mu.Lock()
	p.Scripts = append(p.Scripts, script)
	hook := p.OnEvaluate
	p.mu.Unlock()

	if hook == nil || out == nil {
		return nil
	}
	v, err := hook(p, script)
	if err != nil || v == nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (p *Page) Screenshot(_ context.Context, clip *capture.Rect) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if clip != nil {
		c := *clip
		clip = &c
	}
	p.Screenshots = append(p.Screenshots, clip)
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	return append([]byte(nil), p.ShotData...), nil
}

func (p *Page) Viewport() capture.Viewport { return p.ViewportSize }

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// El builds a visible element.
func El(ref string, box capture.Rect, text string) capture.Element {
	return capture.Element{Ref: ref, Visible: true, Box: box, Text: text}
}

// Hidden builds an invisible element.
func Hidden(ref string) capture.Element {
	return capture.Element{Ref: ref}
}

// NoisePNG renders black and white noise that scores as dense content and
// does not compress below the minimum file size.
func NoisePNG(w, h int) []byte {
	rng := rand.New(rand.NewSource(1))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if rng.Intn(2) == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return encode(img)
}

// FlatPNG renders a single-colour image that scores zero density.
func FlatPNG(w, h int) []byte {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 240
	}
	return encode(img)
}

func encode(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
