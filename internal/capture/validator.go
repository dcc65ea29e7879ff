package capture

import (
	"context"
	"fmt"
	"image"
	"os"

	"go.uber.org/zap"
)

// ValidatorConfig holds the acceptance thresholds.
type ValidatorConfig struct {
	MinDensity   float64
	DensityCheck bool // also score a viewport screenshot during page validation
	MinFileSize  int64
	MinDimension int
}

func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MinDensity:   0.95,
		MinFileSize:  1024,
		MinDimension: 100,
	}
}

type Validator struct {
	cfg    ValidatorConfig
	logger *zap.Logger
}

func NewValidator(cfg ValidatorConfig, logger *zap.Logger) *Validator {
	return &Validator{cfg: cfg, logger: logger}
}

// PageValidation is the outcome of inspecting an expanded page.
type PageValidation struct {
	ExpansionValid      bool     `json:"expansion_valid"`
	HiddenSectionsCount int      `json:"hidden_sections_count"`
	Passed              bool     `json:"validation_passed"`
	DensityChecked      bool     `json:"density_checked"`
	DensityScore        float64  `json:"density_score"`
	Errors              []string `json:"errors,omitempty"`
}

// Err converts a failed validation into a *ValidationError.
func (r PageValidation) Err() error {
	if r.Passed {
		return nil
	}
	return &ValidationError{Hidden: r.HiddenSectionsCount, Reasons: r.Errors}
}

// ValidatePage checks that no collapsed section is visible and, when enabled,
// that the viewport carries enough content. Problems are collected in the
// result rather than returned.
func (v *Validator) ValidatePage(ctx context.Context, page Page) PageValidation {
	var res PageValidation

	hidden, err := CountVisible(ctx, page, validationIndicators)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("count hidden sections: %v", err))
		return res
	}
	res.HiddenSectionsCount = hidden
	res.ExpansionValid = hidden == 0
	if !res.ExpansionValid {
		res.Errors = append(res.Errors, fmt.Sprintf("%d collapsed sections still visible", hidden))
	}
	res.Passed = res.ExpansionValid

	if v.cfg.DensityCheck && res.ExpansionValid {
		vp := page.Viewport()
		data, err := page.Screenshot(ctx, &Rect{Width: float64(vp.Width), Height: float64(vp.Height)})
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("density screenshot: %v", err))
			res.Passed = false
		} else if score, err := DensityFromBytes(data); err != nil {
			res.Errors = append(res.Errors, err.Error())
			res.Passed = false
		} else {
			res.DensityChecked = true
			res.DensityScore = score
			if score < v.cfg.MinDensity {
				res.Errors = append(res.Errors, fmt.Sprintf("content density too low: %.2f < %.2f", score, v.cfg.MinDensity))
				res.Passed = false
			}
		}
	}

	v.logger.Info("page validation",
		zap.Bool("passed", res.Passed),
		zap.Int("hidden_sections", res.HiddenSectionsCount),
		zap.Strings("errors", res.Errors),
	)
	return res
}

// ScreenshotValidation is the outcome of checking one capture on disk.
type ScreenshotValidation struct {
	Path         string  `json:"file"`
	Valid        bool    `json:"valid"`
	FileSize     int64   `json:"file_size"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	DensityScore float64 `json:"density_score"`
	Error        string  `json:"error,omitempty"`
}

// ValidateScreenshot checks existence, size, dimensions and density.
func (v *Validator) ValidateScreenshot(path string) ScreenshotValidation {
	res := ScreenshotValidation{Path: path}
	if err := v.checkScreenshot(path, &res); err != nil {
		res.Error = err.Error()
		v.logger.Warn("screenshot validation failed", zap.String("file", path), zap.Error(err))
		return res
	}
	res.Valid = true
	return res
}

func (v *Validator) checkScreenshot(path string, res *ScreenshotValidation) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("screenshot file does not exist")
		}
		return err
	}
	res.FileSize = info.Size()
	if res.FileSize < v.cfg.MinFileSize {
		return fmt.Errorf("screenshot file too small: %d bytes", res.FileSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decode screenshot: %w", err)
	}
	b := img.Bounds()
	res.Width, res.Height = b.Dx(), b.Dy()
	if res.Width < v.cfg.MinDimension || res.Height < v.cfg.MinDimension {
		return fmt.Errorf("screenshot dimensions too small: %dx%d", res.Width, res.Height)
	}

	res.DensityScore = DensityScore(img)
	if res.DensityScore < v.cfg.MinDensity {
		return fmt.Errorf("content density too low: %.2f < %.2f", res.DensityScore, v.cfg.MinDensity)
	}
	return nil
}

// ValidateScreenshots checks every path; one bad file never stops the batch.
func (v *Validator) ValidateScreenshots(paths []string) []ScreenshotValidation {
	results := make([]ScreenshotValidation, 0, len(paths))
	for _, p := range paths {
		results = append(results, v.ValidateScreenshot(p))
	}
	return results
}

// ScreenshotSummary aggregates screenshot validations.
type ScreenshotSummary struct {
	TotalFiles     int      `json:"total_files"`
	ValidFiles     int      `json:"valid_files"`
	FailedFiles    int      `json:"failed_files"`
	SuccessRate    float64  `json:"success_rate"`
	AverageDensity float64  `json:"average_density"`
	Errors         []string `json:"errors,omitempty"`
}

func Summarize(results []ScreenshotValidation) ScreenshotSummary {
	s := ScreenshotSummary{TotalFiles: len(results)}
	var density float64
	for _, r := range results {
		if r.Valid {
			s.ValidFiles++
			density += r.DensityScore
			continue
		}
		if r.Error != "" {
			s.Errors = append(s.Errors, r.Error)
		}
	}
	s.FailedFiles = s.TotalFiles - s.ValidFiles
	if s.TotalFiles > 0 {
		s.SuccessRate = float64(s.ValidFiles) / float64(s.TotalFiles)
	}
	if s.ValidFiles > 0 {
		s.AverageDensity = density / float64(s.ValidFiles)
	}
	return s
}
