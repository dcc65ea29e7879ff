package capture

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/user/article-capture/pkg/metrics"
	"github.com/user/article-capture/pkg/telemetry"
	"go.uber.org/zap"
)

// ShotKind tells how a screenshot was framed.
type ShotKind string

const (
	ShotSection  ShotKind = "section"
	ShotChunk    ShotKind = "chunk"
	ShotFullPage ShotKind = "full_page"
)

// Shot is one screenshot written to disk.
type Shot struct {
	Filename string
	Path     string
	Index    int
	Title    string
	Kind     ShotKind
}

// ShooterConfig describes the article layout and capture pacing.
type ShooterConfig struct {
	// ContentArea is the article column in viewport coordinates. An empty
	// area means the layout is unknown and the whole page is captured.
	ContentArea        Rect
	FirstSectionHeight float64
	SectionHeight      float64
	HeaderMargin       float64 // captured above each header
	ChunkHeight        float64
	RevealScrollY      float64 // scroll target that triggers lazy content
	RevealWait         time.Duration
	ScrollWait         time.Duration
	DeviceScaleFactor  float64
	MinFileSize        int64
}

func DefaultShooterConfig() ShooterConfig {
	return ShooterConfig{
		ContentArea:        Rect{X: 380, Y: 56, Width: 848, Height: 1200},
		FirstSectionHeight: 1200,
		SectionHeight:      1000,
		HeaderMargin:       50,
		ChunkHeight:        1000,
		RevealScrollY:      1000,
		RevealWait:         2 * time.Second,
		ScrollWait:         500 * time.Millisecond,
		DeviceScaleFactor:  2,
		MinFileSize:        1024,
	}
}

type Shooter struct {
	cfg    ShooterConfig
	logger *zap.Logger
}

func NewShooter(cfg ShooterConfig, logger *zap.Logger) *Shooter {
	return &Shooter{cfg: cfg, logger: logger}
}

// RunDir is where the screenshots of one run of one article are written.
func RunDir(outDir, slug, runID string) string {
	return filepath.Join(outDir, slug, runID)
}

// ShootSections captures one screenshot per section header inside the content
// area. Without headers the content area is captured in bands; without a
// content area the full page is captured. A section that fails is logged and
// skipped.
func (s *Shooter) ShootSections(ctx context.Context, page Page, slug, runID, outDir string) ([]Shot, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "capture.ShootSections")
	defer span.End()

	dir := RunDir(outDir, slug, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	log := s.logger.With(zap.String("slug", slug), zap.String("run_id", runID))

	area := s.cfg.ContentArea
	if area.Empty() {
		log.Warn("no content area configured, capturing full page")
		return s.captureFullPage(ctx, page, slug, dir)
	}

	headers, err := s.sectionHeaders(ctx, page)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		log.Warn("no section headers found, capturing content area")
		return s.captureContentArea(ctx, page, slug, dir)
	}

	shots := make([]Shot, 0, len(headers))
	for i, header := range headers {
		if err := ctx.Err(); err != nil {
			return shots, err
		}
		shot, err := s.captureSection(ctx, page, header, i, dir)
		if err != nil {
			log.Error("section capture failed", zap.Int("section", i), zap.Error(err))
			continue
		}
		shots = append(shots, shot)
	}
	log.Info("section capture completed", zap.Int("sections", len(shots)))
	return shots, nil
}

// sectionHeaders returns visible headers lying horizontally inside the
// content area, top to bottom.
func (s *Shooter) sectionHeaders(ctx context.Context, page Page) ([]Element, error) {
	area := s.cfg.ContentArea
	seen := make(map[string]bool)
	var headers []Element
	for _, sel := range sectionTitleSelectors {
		els, err := page.Query(ctx, sel)
		if err != nil {
			s.logger.Warn("header query failed", zap.Stringer("selector", sel), zap.Error(err))
			continue
		}
		for _, el := range els {
			if !el.Visible || seen[el.Ref] {
				continue
			}
			if el.Box.X >= area.X && el.Box.Right() <= area.Right() {
				seen[el.Ref] = true
				headers = append(headers, el)
			}
		}
	}
	sort.SliceStable(headers, func(i, j int) bool { return headers[i].Box.Y < headers[j].Box.Y })
	return headers, nil
}

func (s *Shooter) captureSection(ctx context.Context, page Page, header Element, index int, dir string) (Shot, error) {
	if index == 0 {
		if err := page.ScrollTo(ctx, s.cfg.RevealScrollY); err != nil {
			return Shot{}, fmt.Errorf("reveal content: %w", err)
		}
		_ = sleep(ctx, s.cfg.RevealWait)
	}

	title := fmt.Sprintf("section_%03d", index)
	if text := strings.TrimSpace(header.Text); text != "" {
		title = SanitizeFilename(text)
	}

	if err := page.ScrollIntoView(ctx, header); err != nil {
		return Shot{}, fmt.Errorf("scroll to header: %w", err)
	}
	_ = sleep(ctx, s.cfg.ScrollWait)

	box, err := page.Box(ctx, header)
	if err != nil {
		return Shot{}, fmt.Errorf("header box: %w", err)
	}
	clip, ok := s.SectionClip(box, index)
	if !ok {
		return Shot{}, fmt.Errorf("header at y=%.0f is below the content area", box.Y)
	}

	filename := fmt.Sprintf("sec_%03d_%s.png", index, title)
	path := filepath.Join(dir, filename)
	if err := s.shoot(ctx, page, &clip, path); err != nil {
		return Shot{}, err
	}
	metrics.ScreenshotsTotal.WithLabelValues(string(ShotSection)).Inc()
	return Shot{Filename: filename, Path: path, Index: index, Title: title, Kind: ShotSection}, nil
}

// SectionClip frames a section starting a margin above its header, clamped to
// the content area. ok is false when nothing of the section is inside it.
func (s *Shooter) SectionClip(header Rect, index int) (Rect, bool) {
	area := s.cfg.ContentArea
	top := math.Max(area.Y, header.Y-s.cfg.HeaderMargin)

	height := s.cfg.SectionHeight
	if index == 0 {
		height = s.cfg.FirstSectionHeight
	}
	height = math.Min(height, area.Height)

	bottom := math.Min(top+height, area.Bottom())
	if bottom <= top {
		return Rect{}, false
	}
	return Rect{X: area.X, Y: top, Width: area.Width, Height: bottom - top}, true
}

func (s *Shooter) captureContentArea(ctx context.Context, page Page, slug, dir string) ([]Shot, error) {
	if err := page.ScrollTo(ctx, s.cfg.RevealScrollY); err != nil {
		return nil, fmt.Errorf("reveal content: %w", err)
	}
	_ = sleep(ctx, s.cfg.RevealWait)

	area := s.cfg.ContentArea
	chunk := s.cfg.ChunkHeight
	if chunk <= 0 {
		chunk = area.Height
	}

	var shots []Shot
	for i, y := 0, area.Y; y < area.Bottom(); i++ {
		end := math.Min(y+chunk, area.Bottom())
		clip := Rect{X: area.X, Y: y, Width: area.Width, Height: end - y}

		filename := fmt.Sprintf("content_chunk_%03d_%s.png", i, slug)
		path := filepath.Join(dir, filename)
		if err := s.shoot(ctx, page, &clip, path); err != nil {
			return shots, err
		}
		metrics.ScreenshotsTotal.WithLabelValues(string(ShotChunk)).Inc()
		shots = append(shots, Shot{
			Filename: filename,
			Path:     path,
			Index:    i,
			Title:    fmt.Sprintf("content_chunk_%d", i),
			Kind:     ShotChunk,
		})
		y = end
	}
	return shots, nil
}

func (s *Shooter) captureFullPage(ctx context.Context, page Page, slug, dir string) ([]Shot, error) {
	filename := fmt.Sprintf("full_page_%s.png", slug)
	path := filepath.Join(dir, filename)
	if err := s.shoot(ctx, page, nil, path); err != nil {
		return nil, err
	}
	metrics.ScreenshotsTotal.WithLabelValues(string(ShotFullPage)).Inc()
	return []Shot{{Filename: filename, Path: path, Index: 0, Title: "full_page", Kind: ShotFullPage}}, nil
}

func (s *Shooter) shoot(ctx context.Context, page Page, clip *Rect, path string) error {
	data, err := page.Screenshot(ctx, clip)
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	return s.writeImage(path, data)
}

// writeImage tags the PNG with the DPI matching the device scale factor and
// writes it. Tagging failures keep the raw capture.
func (s *Shooter) writeImage(path string, data []byte) error {
	dpi := int(96 * s.cfg.DeviceScaleFactor)
	if tagged, err := SetPNGDPI(data, dpi); err != nil {
		s.logger.Warn("dpi tagging failed", zap.String("file", path), zap.Error(err))
	} else {
		data = tagged
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if int64(len(data)) < s.cfg.MinFileSize {
		s.logger.Warn("screenshot file seems too small", zap.String("file", path), zap.Int("size", len(data)))
	}
	return nil
}

// SanitizeFilename makes header text safe for use in a file name.
func SanitizeFilename(text string) string {
	sanitized := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, text)
	if runes := []rune(sanitized); len(runes) > 50 {
		sanitized = string(runes[:50])
	}
	sanitized = strings.Trim(sanitized, " .")
	if sanitized == "" {
		return "section"
	}
	return sanitized
}

// ScreenshotPlan estimates the captures a page will produce.
type ScreenshotPlan struct {
	ViewportWidth        int     `json:"viewport_width"`
	ViewportHeight       int     `json:"viewport_height"`
	PageHeight           float64 `json:"page_height"`
	ContentArea          Rect    `json:"content_area"`
	SectionCount         int     `json:"section_count"`
	EstimatedScreenshots int     `json:"estimated_screenshots"`
}

func (s *Shooter) ScreenshotMetrics(ctx context.Context, page Page) (ScreenshotPlan, error) {
	vp := page.Viewport()
	plan := ScreenshotPlan{
		ViewportWidth:  vp.Width,
		ViewportHeight: vp.Height,
		ContentArea:    s.cfg.ContentArea,
	}
	if err := page.Evaluate(ctx, pageHeightScript, &plan.PageHeight); err != nil {
		return plan, fmt.Errorf("page height: %w", err)
	}
	if !s.cfg.ContentArea.Empty() {
		headers, err := s.sectionHeaders(ctx, page)
		if err != nil {
			return plan, err
		}
		plan.SectionCount = len(headers)
	}
	plan.EstimatedScreenshots = plan.SectionCount
	if plan.EstimatedScreenshots == 0 {
		plan.EstimatedScreenshots = 1
	}
	return plan, nil
}
