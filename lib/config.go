package lib

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	captcha "github.com/habuha/captcha"
	"github.com/habuha/captcha/lib/geometry"
	"github.com/habuha/captcha/lib/trajectory"
)

var (
	ErrBadConfig = errors.New("lib: configuration is invalid")
)

// yamlDuration accepts Go duration strings ("45s", "1m30s") where yaml.v3
// would otherwise want raw nanosecond integers.
type yamlDuration time.Duration

func (d *yamlDuration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("can't parse duration %q: %w", value.Value, err)
	}

	*d = yamlDuration(parsed)
	return nil
}

// AdmissionConfig tunes the per-client issuance limiter.
type AdmissionConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

func (a *AdmissionConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		Limit  *int          `yaml:"limit"`
		Window *yamlDuration `yaml:"window"`
	}{}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	// absent keys keep whatever was already set, usually the defaults
	if raw.Limit != nil {
		a.Limit = *raw.Limit
	}
	if raw.Window != nil {
		a.Window = time.Duration(*raw.Window)
	}
	return nil
}

// SlidePuzzleConfig tunes the slide puzzle variant.
type SlidePuzzleConfig struct {
	CanvasWidth  int `yaml:"canvasWidth"`
	CanvasHeight int `yaml:"canvasHeight"`
	GapWidth     int `yaml:"gapWidth"`
	GapHeight    int `yaml:"gapHeight"`
	Tolerance    int `yaml:"tolerance"`
}

// Config is the tunable surface of the service, loadable from YAML. The zero
// value is not useful, start from DefaultConfig.
type Config struct {
	ChallengeExpiry time.Duration          `yaml:"challengeExpiry"`
	Admission       AdmissionConfig        `yaml:"admission"`
	Classifier      *trajectory.Classifier `yaml:"classifier"`
	Geometry        geometry.Constraints   `yaml:"geometry"`
	SlidePuzzle     SlidePuzzleConfig      `yaml:"slidePuzzle"`
}

func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		ChallengeExpiry *yamlDuration          `yaml:"challengeExpiry"`
		Admission       *AdmissionConfig       `yaml:"admission"`
		Classifier      *trajectory.Classifier `yaml:"classifier"`
		Geometry        *geometry.Constraints  `yaml:"geometry"`
		SlidePuzzle     *SlidePuzzleConfig     `yaml:"slidePuzzle"`
	}{
		Admission:   &c.Admission,
		Classifier:  c.Classifier,
		Geometry:    &c.Geometry,
		SlidePuzzle: &c.SlidePuzzle,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.ChallengeExpiry != nil {
		c.ChallengeExpiry = time.Duration(*raw.ChallengeExpiry)
	}
	c.Classifier = raw.Classifier
	return nil
}

// DefaultConfig matches the original captcha tuning.
func DefaultConfig() *Config {
	return &Config{
		ChallengeExpiry: captcha.DefaultExpiry,
		Admission: AdmissionConfig{
			Limit:  captcha.DefaultAdmissionLimit,
			Window: captcha.DefaultAdmissionWindow,
		},
		Classifier: trajectory.NewClassifier(),
		Geometry:   geometry.DefaultConstraints,
		SlidePuzzle: SlidePuzzleConfig{
			CanvasWidth:  300,
			CanvasHeight: 150,
			GapWidth:     40,
			GapHeight:    40,
			Tolerance:    10,
		},
	}
}

// LoadConfigOrDefault reads the YAML config at fname, or returns the defaults
// when fname is empty. Fields absent from the file keep their default values.
func LoadConfigOrDefault(fname string) (*Config, error) {
	result := DefaultConfig()

	if fname == "" {
		return result, nil
	}

	fin, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("can't open config file %s: %w", fname, err)
	}
	defer fin.Close()

	if err := yaml.NewDecoder(fin).Decode(result); err != nil {
		return nil, fmt.Errorf("can't parse config file %s: %w", fname, err)
	}

	if err := result.Valid(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", fname, err)
	}

	return result, nil
}

// Valid checks the configuration's internal consistency.
func (c *Config) Valid() error {
	var errs []error

	if c.ChallengeExpiry <= 0 {
		errs = append(errs, fmt.Errorf("challengeExpiry must be positive, got %s", c.ChallengeExpiry))
	}

	if c.Admission.Limit <= 0 {
		errs = append(errs, fmt.Errorf("admission.limit must be positive, got %d", c.Admission.Limit))
	}

	if c.Admission.Window <= 0 {
		errs = append(errs, fmt.Errorf("admission.window must be positive, got %s", c.Admission.Window))
	}

	if c.SlidePuzzle.Tolerance <= 0 {
		errs = append(errs, fmt.Errorf("slidePuzzle.tolerance must be positive, got %d", c.SlidePuzzle.Tolerance))
	}

	// the trap band and the target band are each Tolerance wide on either
	// side of their center; the planner has to keep them apart
	if c.Geometry.MinWidthDiff <= 2*c.SlidePuzzle.Tolerance {
		errs = append(errs, fmt.Errorf("geometry.minWidthDiff (%d) must exceed twice slidePuzzle.tolerance (%d), otherwise the decoy and target bands can overlap", c.Geometry.MinWidthDiff, c.SlidePuzzle.Tolerance))
	}

	if c.Classifier == nil {
		errs = append(errs, errors.New("classifier must be set"))
	} else if c.Classifier.MinPoints < 2 {
		errs = append(errs, fmt.Errorf("classifier.minPoints must be at least 2, got %d", c.Classifier.MinPoints))
	}

	if len(errs) != 0 {
		return fmt.Errorf("%w: %w", ErrBadConfig, errors.Join(errs...))
	}

	return nil
}
