package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/sanonone/scalenav/internal/server"
	"github.com/sanonone/scalenav/pkg/engine"
	"github.com/sanonone/scalenav/pkg/hierarchy"
	"github.com/sanonone/scalenav/pkg/storage/mmap"
	"github.com/sanonone/scalenav/pkg/viewport"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	dataPath := flag.String("data", "", "Raw little-endian float32 data file, one point per row")
	dims := flag.Int("dims", 0, "Number of dimensions per point")
	width := flag.Int("width", 0, "Image width in pixels (overrides config)")
	height := flag.Int("height", 0, "Image height in pixels (overrides config)")
	dataDir := flag.String("data-dir", "", "Directory for the hierarchy cache and viewport journal (overrides config)")
	roiFlag := flag.String("roi", "", "Run one update for the layer rectangle x0,y0,x1,y1")
	replayPath := flag.String("replay", "", "Replay the viewports of a journal file, updating for each")
	httpAddr := flag.String("http-addr", ":9091", "Address of the session API and /metrics; empty to exit after the updates")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	opts := engine.DefaultOptions("scalenav-data", 0, 0)
	if *configPath != "" {
		var err error
		if opts, err = engine.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	if *width > 0 {
		opts.ImageWidth = *width
	}
	if *height > 0 {
		opts.ImageHeight = *height
	}
	if *dataDir != "" {
		opts.DataDir = *dataDir
	}

	if *dataPath == "" || *dims <= 0 {
		log.Fatal("-data and -dims are required")
	}
	raw, err := mmap.OpenFloat32(*dataPath)
	if err != nil {
		log.Fatalf("Failed to read data: %v", err)
	}
	defer raw.Close()
	data, err := dataset(*dataPath, raw.Values(), *dims)
	if err != nil {
		log.Fatalf("Invalid data: %v", err)
	}
	log.Printf("Loaded %d points with %d dimensions from %s", data.NumPoints, data.NumDims, *dataPath)

	var rois []viewport.ROI
	if *roiFlag != "" {
		roi, err := parseROI(*roiFlag)
		if err != nil {
			log.Fatalf("Invalid -roi: %v", err)
		}
		rois = append(rois, roi)
	}
	if *replayPath != "" {
		seq, err := viewport.LoadSequence(*replayPath)
		if err != nil {
			log.Fatalf("Failed to load viewport journal: %v", err)
		}
		log.Printf("Replaying %d viewports from %s", seq.Len(), *replayPath)
		rois = append(rois, seq.ROIs()...)
	}

	eng, err := engine.Open(opts, data)
	if err != nil {
		log.Fatalf("Failed to open engine: %v", err)
	}
	defer eng.Close()

	ctx := context.Background()
	for _, roi := range rois {
		runUpdate(ctx, eng, roi)
	}

	if *httpAddr == "" {
		return
	}

	srv := server.NewServer(eng, *httpAddr)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Run(); err != nil {
			log.Printf("Server error: %v", err)
			shutdownChan <- syscall.SIGTERM
		}
	}()

	<-shutdownChan
	srv.Shutdown()
	log.Println("Shutdown complete")
}

func runUpdate(ctx context.Context, eng *engine.Engine, roi viewport.ROI) {
	eng.SetROI(roi)
	res, err := eng.Update(ctx)
	if err != nil {
		log.Printf("No update for %s: %v", roi, err)
		return
	}
	log.Printf("Update %s: scale %d -> %d, %d landmarks for %d visible points in %s",
		res.ID, res.PreviousLevel, res.Level, len(res.Landmarks), res.NumVisible, res.Duration)
}

// dataset wraps row-major values of dims dimensions.
func dataset(path string, values []float32, dims int) (hierarchy.Dataset, error) {
	if len(values)%dims != 0 {
		return hierarchy.Dataset{}, fmt.Errorf("%d values are not a multiple of %d dimensions", len(values), dims)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return hierarchy.Dataset{Name: name, Values: values, NumPoints: len(values) / dims, NumDims: dims}, nil
}

func parseROI(s string) (viewport.ROI, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return viewport.ROI{}, fmt.Errorf("expected x0,y0,x1,y1, got %q", s)
	}
	var v [4]float32
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return viewport.ROI{}, err
		}
		v[i] = float32(f)
	}
	return viewport.ROI{
		LayerBottomLeft: viewport.Vector2D{X: v[0], Y: v[1]},
		LayerTopRight:   viewport.Vector2D{X: v[2], Y: v[3]},
	}, nil
}
