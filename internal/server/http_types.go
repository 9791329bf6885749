package server

import (
	"github.com/sanonone/scalenav/pkg/continuity"
	"github.com/sanonone/scalenav/pkg/engine"
	"github.com/sanonone/scalenav/pkg/viewport"
)

// ROIRequest defines the body of PUT /roi. Points are [x, y] in layer pixels.
type ROIRequest struct {
	BottomLeft [2]float32 `json:"bottom_left"`
	TopRight   [2]float32 `json:"top_right"`
	ViewXY     [2]float32 `json:"view_xy,omitempty"`
	ViewWH     [2]float32 `json:"view_wh,omitempty"`
}

func (r ROIRequest) ROI() viewport.ROI {
	return viewport.ROI{
		LayerBottomLeft: viewport.Vector2D{X: r.BottomLeft[0], Y: r.BottomLeft[1]},
		LayerTopRight:   viewport.Vector2D{X: r.TopRight[0], Y: r.TopRight[1]},
		ViewXY:          viewport.Vector2D{X: r.ViewXY[0], Y: r.ViewXY[1]},
		ViewWH:          viewport.Vector2D{X: r.ViewWH[0], Y: r.ViewWH[1]},
	}
}

func roiRequest(roi viewport.ROI) ROIRequest {
	return ROIRequest{
		BottomLeft: [2]float32{roi.LayerBottomLeft.X, roi.LayerBottomLeft.Y},
		TopRight:   [2]float32{roi.LayerTopRight.X, roi.LayerTopRight.Y},
		ViewXY:     [2]float32{roi.ViewXY.X, roi.ViewXY.Y},
		ViewWH:     [2]float32{roi.ViewWH.X, roi.ViewWH.Y},
	}
}

// StepRequest defines the body of POST /step.
type StepRequest struct {
	Direction string `json:"direction"`
}

// BudgetRequest defines the body of PUT /budget. Absent fields keep their
// current value.
type BudgetRequest struct {
	Min       *int    `json:"min,omitempty"`
	Max       *int    `json:"max,omitempty"`
	Target    *int    `json:"target,omitempty"`
	Mode      *string `json:"mode,omitempty"`
	Heuristic *bool   `json:"heuristic,omitempty"`
}

type BudgetResponse struct {
	Min       int    `json:"min"`
	Max       int    `json:"max"`
	Target    int    `json:"target"`
	Mode      string `json:"mode"`
	Heuristic bool   `json:"heuristic"`
}

type PauseRequest struct {
	Paused bool `json:"paused"`
}

// SelectionRequest defines the body of POST /selection/{side}.
type SelectionRequest struct {
	IDs []uint32 `json:"ids"`
}

// SelectionResponse carries the selection mirrored onto the other side.
type SelectionResponse struct {
	Propagated bool     `json:"propagated"`
	Mirrored   []uint32 `json:"mirrored"`
}

// UpdateResponse summarises a finished update.
type UpdateResponse struct {
	ID            string  `json:"id"`
	Level         int     `json:"level"`
	PreviousLevel int     `json:"previous_level"`
	Landmarks     int     `json:"landmarks"`
	Visible       int     `json:"visible"`
	Previous      int     `json:"init_previous"`
	Interpolated  int     `json:"init_interpolated"`
	Random        int     `json:"init_random"`
	DurationMs    float64 `json:"duration_ms"`
}

func updateResponse(res engine.UpdateResult) UpdateResponse {
	c := continuity.CountProvenance(res.Provenance)
	return UpdateResponse{
		ID:            res.ID,
		Level:         res.Level,
		PreviousLevel: res.PreviousLevel,
		Landmarks:     len(res.Landmarks),
		Visible:       res.NumVisible,
		Previous:      c.Previous,
		Interpolated:  c.Interpolated,
		Random:        c.Random,
		DurationMs:    float64(res.Duration.Microseconds()) / 1000,
	}
}

// StateResponse describes the active embedding.
type StateResponse struct {
	Level     int            `json:"level"`
	Landmarks []uint32       `json:"landmarks"`
	ROI       ROIRequest     `json:"roi"`
	Budget    BudgetResponse `json:"budget"`
	Busy      bool           `json:"busy"`
	Viewports int            `json:"viewports"`
	Step      int            `json:"step"`
}

// EmbeddingResponse lists the coordinates of the active embedding together
// with the data point represented at every position.
type EmbeddingResponse struct {
	Coords     []float32 `json:"coords"`
	DataPoints []uint32  `json:"data_points"`
}
