package hierarchy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/sanonone/scalenav/pkg/core/distance"
	"gopkg.in/yaml.v3"
)

// CacheVersion is stored in every parameter record. Caches written with a
// different version are rejected.
const CacheVersion = "1.0"

const versionKey = "## VERSION ##"

// KNN libraries understood by the reference builder.
const (
	KnnHNSW  = "hnsw"
	KnnExact = "exact"
)

// ErrParamsMismatch is returned when a persisted parameter record does not
// match the current configuration.
var ErrParamsMismatch = errors.New("cache parameters do not match")

// Params holds every tunable that influences the content of a hierarchy.
type Params struct {
	// NumScales is the number of scales including the data scale.
	NumScales int `yaml:"num_scales"`

	KnnLibrary   string                  `yaml:"knn_library"`
	KnnMetric    distance.DistanceMetric `yaml:"knn_metric"`
	NumNeighbors int                     `yaml:"num_neighbors"`
	HnswM        int                     `yaml:"hnsw_m"`
	HnswEf       int                     `yaml:"hnsw_ef"`

	// MemoryPreserving stores the data in half precision while building the
	// neighbourhood graph.
	MemoryPreserving bool `yaml:"memory_preserving"`

	// WalkLength bounds the number of propagation steps used to compute the
	// area of influence of landmarks.
	WalkLength int `yaml:"walk_length"`
	// PruningThreshold drops area-of-influence entries lighter than this.
	PruningThreshold float32 `yaml:"pruning_threshold"`
	// LandmarkPercentile is the share (in percent) of the landmarks of a scale
	// promoted to the next coarser scale.
	LandmarkPercentile float32 `yaml:"landmark_percentile"`

	Seed int64 `yaml:"seed"`
}

// DefaultParams returns the parameters used when none are configured.
func DefaultParams() Params {
	return Params{
		NumScales:          3,
		KnnLibrary:         KnnHNSW,
		KnnMetric:          distance.Euclidean,
		NumNeighbors:       30,
		HnswM:              16,
		HnswEf:             200,
		WalkLength:         15,
		PruningThreshold:   0.01,
		LandmarkPercentile: 10,
		Seed:               1,
	}
}

// Normalize replaces invalid values with defaults and logs every correction.
func (p Params) Normalize(logger *slog.Logger) Params {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultParams()
	if p.NumScales <= 0 {
		logger.Warn("Number of scales must be positive, using 1", "configured", p.NumScales)
		p.NumScales = 1
	}
	if p.KnnLibrary != KnnHNSW && p.KnnLibrary != KnnExact {
		if p.KnnLibrary != "" {
			logger.Warn("Unknown kNN library, using default", "configured", p.KnnLibrary, "default", def.KnnLibrary)
		}
		p.KnnLibrary = def.KnnLibrary
	}
	if p.KnnMetric == "" {
		p.KnnMetric = def.KnnMetric
	}
	if p.NumNeighbors < 2 {
		if p.NumNeighbors != 0 {
			logger.Warn("Number of neighbours too small, using default", "configured", p.NumNeighbors)
		}
		p.NumNeighbors = def.NumNeighbors
	}
	if p.HnswM <= 0 {
		p.HnswM = def.HnswM
	}
	if p.HnswEf <= 0 {
		p.HnswEf = def.HnswEf
	}
	if p.WalkLength <= 0 {
		p.WalkLength = def.WalkLength
	}
	if p.PruningThreshold < 0 {
		p.PruningThreshold = def.PruningThreshold
	}
	if p.LandmarkPercentile <= 0 || p.LandmarkPercentile > 100 {
		if p.LandmarkPercentile != 0 {
			logger.Warn("Landmark percentile out of (0, 100], using default", "configured", p.LandmarkPercentile)
		}
		p.LandmarkPercentile = def.LandmarkPercentile
	}
	return p
}

// Fingerprint is the ordered key/value record written next to a cache.
type Fingerprint []FingerprintField

type FingerprintField struct {
	Key   string
	Value string
}

// NewFingerprint describes the data set and parameters a hierarchy is built from.
func NewFingerprint(dataName string, numPoints, numDims int, p Params) Fingerprint {
	return Fingerprint{
		{"Input data name", dataName},
		{"Number of points", strconv.Itoa(numPoints)},
		{"Number of dimensions", strconv.Itoa(numDims)},
		{"Number of Scales", strconv.Itoa(p.NumScales)},
		{"Knn library", p.KnnLibrary},
		{"Knn distance metric", string(p.KnnMetric)},
		{"Knn number of neighbors", strconv.Itoa(p.NumNeighbors)},
		{"Parameter M (HNSW)", strconv.Itoa(p.HnswM)},
		{"Parameter eff (HNSW)", strconv.Itoa(p.HnswEf)},
		{"Memory preserving computation", strconv.FormatBool(p.MemoryPreserving)},
		{"Random walks length", strconv.Itoa(p.WalkLength)},
		{"Pruning threshold", formatFloat(p.PruningThreshold)},
		{"Percentile Landmark Selection", formatFloat(p.LandmarkPercentile)},
		{"Seed for random algorithms", strconv.FormatInt(p.Seed, 10)},
	}
}

// formatFloat renders f with the shortest representation that parses back to
// the same float32 bits, so string equality implies bitwise equality.
func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

// Save writes the fingerprint as a YAML mapping with a version entry.
func (f Fingerprint) Save(path string) error {
	record := make(map[string]string, len(f)+1)
	record[versionKey] = CacheVersion
	for _, field := range f {
		record[field.Key] = field.Value
	}
	data, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Check compares the record stored at path with f. Any missing key, extra
// field, different value or version yields an error wrapping ErrParamsMismatch.
func (f Fingerprint) Check(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var record map[string]string
	if err := yaml.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("%w: unreadable record: %v", ErrParamsMismatch, err)
	}
	if v := record[versionKey]; v != CacheVersion {
		return fmt.Errorf("%w: version %q, expected %q", ErrParamsMismatch, v, CacheVersion)
	}
	for _, field := range f {
		stored, ok := record[field.Key]
		if !ok {
			return fmt.Errorf("%w: %q missing", ErrParamsMismatch, field.Key)
		}
		if stored != field.Value {
			return fmt.Errorf("%w: %q is %q, expected %q", ErrParamsMismatch, field.Key, stored, field.Value)
		}
	}
	if len(record) != len(f)+1 {
		return fmt.Errorf("%w: record has %d fields, expected %d", ErrParamsMismatch, len(record)-1, len(f))
	}
	return nil
}
