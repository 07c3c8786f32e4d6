package config

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rfcal/pkg/calibration"
	"github.com/charlie0129/rfcal/pkg/instrument"
	"github.com/charlie0129/rfcal/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		Generator:           &instrument.Address{Port: "/dev/ttyUSB0", GPIB: 19},
		PowerMeter:          &instrument.Address{Port: "/dev/ttyUSB0", GPIB: 3},
		Source:              &instrument.Address{Port: "/dev/ttyUSB0", GPIB: 9},
		Simulate:            ptr.To(false),
		DataDir:             ptr.To("/var/lib/rfcal"),
		SettleMillis:        ptr.To(200),
		MeasureSettleMillis: ptr.To(100),
		QueryTimeoutMillis:  ptr.To(5000),
		Tolerance:           ptr.To(0.05),
		MaxIterations:       ptr.To(50),
		AllowNonRootAccess:  ptr.To(false),
		RecalibrationCron:   ptr.To(""),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

type RawFileConfig struct {
	Generator           *instrument.Address `json:"generator,omitempty"`
	PowerMeter          *instrument.Address `json:"powerMeter,omitempty"`
	Source              *instrument.Address `json:"source,omitempty"`
	Simulate            *bool               `json:"simulate,omitempty"`
	DataDir             *string             `json:"dataDir,omitempty"`
	SettleMillis        *int                `json:"settleMillis,omitempty"`
	MeasureSettleMillis *int                `json:"measureSettleMillis,omitempty"`
	QueryTimeoutMillis  *int                `json:"queryTimeoutMillis,omitempty"`
	Tolerance           *float64            `json:"tolerance,omitempty"`
	MaxIterations       *int                `json:"maxIterations,omitempty"`
	AllowNonRootAccess  *bool               `json:"allowNonRootAccess,omitempty"`
	RecalibrationCron   *string             `json:"recalibrationCron,omitempty"`
	Params              map[string]float64  `json:"params,omitempty"`
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	rawConfig := &RawFileConfig{
		Generator:           ptr.To(c.Generator()),
		PowerMeter:          ptr.To(c.PowerMeter()),
		Source:              ptr.To(c.Source()),
		Simulate:            ptr.To(c.Simulate()),
		DataDir:             ptr.To(c.DataDir()),
		SettleMillis:        ptr.To(int(c.Settle().Milliseconds())),
		MeasureSettleMillis: ptr.To(int(c.MeasureSettle().Milliseconds())),
		QueryTimeoutMillis:  ptr.To(int(c.QueryTimeout().Milliseconds())),
		Tolerance:           ptr.To(c.Tolerance()),
		MaxIterations:       ptr.To(c.MaxIterations()),
		AllowNonRootAccess:  ptr.To(c.AllowNonRootAccess()),
		RecalibrationCron:   ptr.To(c.RecalibrationCron()),
		Params:              c.Params(),
	}

	return rawConfig, nil
}

// value reads a field under the read lock, falling back to the default.
func value[T any](f *File, field func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if v := field(f.c); v != nil {
		return *v
	}
	return *field(defaultFileConfig)
}

func (f *File) Generator() instrument.Address {
	return value(f, func(c *RawFileConfig) *instrument.Address { return c.Generator })
}

func (f *File) PowerMeter() instrument.Address {
	return value(f, func(c *RawFileConfig) *instrument.Address { return c.PowerMeter })
}

func (f *File) Source() instrument.Address {
	return value(f, func(c *RawFileConfig) *instrument.Address { return c.Source })
}

func (f *File) Simulate() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.Simulate })
}

// DataDir is where calibration tables and the result database live. A
// relative path is resolved against the config file's directory.
func (f *File) DataDir() string {
	dir := value(f, func(c *RawFileConfig) *string { return c.DataDir })
	if !filepath.IsAbs(dir) && f.filepath != "" {
		dir = filepath.Join(filepath.Dir(f.filepath), dir)
	}
	return dir
}

func (f *File) Settle() time.Duration {
	return millis(value(f, func(c *RawFileConfig) *int { return c.SettleMillis }))
}

func (f *File) MeasureSettle() time.Duration {
	return millis(value(f, func(c *RawFileConfig) *int { return c.MeasureSettleMillis }))
}

func (f *File) QueryTimeout() time.Duration {
	return millis(value(f, func(c *RawFileConfig) *int { return c.QueryTimeoutMillis }))
}

func (f *File) Tolerance() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.Tolerance })
}

func (f *File) MaxIterations() int {
	return value(f, func(c *RawFileConfig) *int { return c.MaxIterations })
}

func (f *File) AllowNonRootAccess() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.AllowNonRootAccess })
}

func (f *File) RecalibrationCron() string {
	return value(f, func(c *RawFileConfig) *string { return c.RecalibrationCron })
}

func (f *File) Param(name string) (float64, error) {
	spec, ok := LookupParam(name)
	if !ok {
		return 0, fmt.Errorf("%w: unknown parameter %q", calibration.ErrInvalidRange, name)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if v, ok := f.c.Params[name]; ok {
		return v, nil
	}
	return spec.Default, nil
}

func (f *File) Params() map[string]float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ret := make(map[string]float64, len(ParamSpecs))
	for _, p := range ParamSpecs {
		ret[p.Name] = p.Default
	}
	for k, v := range f.c.Params {
		if _, ok := ret[k]; ok {
			ret[k] = v
		}
	}
	return ret
}

func (f *File) SetParam(name string, v float64) error {
	spec, ok := LookupParam(name)
	if !ok {
		return fmt.Errorf("%w: unknown parameter %q", calibration.ErrInvalidRange, name)
	}
	if err := spec.Validate(v); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	params := maps.Clone(f.c.Params)
	if params == nil {
		params = make(map[string]float64)
	}
	params[name] = v
	f.c.Params = params
	return nil
}

func (f *File) SetSimulate(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Simulate = &b
}

func (f *File) SetAllowNonRootAccess(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.AllowNonRootAccess = &b
}

func (f *File) SetRecalibrationCron(expr string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.RecalibrationCron = &expr
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}

	// Out-of-bounds parameters fail the load.
	for name, v := range conf.Params {
		spec, ok := LookupParam(name)
		if !ok {
			logrus.WithField("param", name).Warn("ignoring unknown sweep parameter")
			continue
		}
		if err := spec.Validate(v); err != nil {
			return pkgerrors.Wrapf(err, "invalid config file %s", f.filepath)
		}
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	fields := logrus.Fields{
		"generator":     f.Generator().String(),
		"powerMeter":    f.PowerMeter().String(),
		"source":        f.Source().String(),
		"simulate":      f.Simulate(),
		"dataDir":       f.DataDir(),
		"settle":        f.Settle(),
		"measureSettle": f.MeasureSettle(),
		"tolerance":     f.Tolerance(),
		"maxIterations": f.MaxIterations(),
		"cron":          f.RecalibrationCron(),
	}
	for k, v := range f.Params() {
		fields[k] = v
	}
	return fields
}
