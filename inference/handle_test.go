package inference_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-live-detect/inference"
	"github.com/nvr-ai/go-live-detect/inference/inferencetest"
)

func TestNewModelHandle_Validation(t *testing.T) {
	tests := []struct {
		name     string
		shape    inference.Shape
		shapeErr bool
	}{
		{"valid", inference.NewShape(1, 640, 640, 3), false},
		{"batch of two", inference.NewShape(2, 640, 640, 3), true},
		{"grey input", inference.NewShape(1, 640, 640, 1), true},
		{"missing batch", inference.NewShape(640, 640, 3), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := inference.NewModelHandle(inference.HandleConfig{ID: "m", InputShape: tt.shape}, &inferencetest.Backend{})
			if tt.shapeErr {
				assert.True(t, inference.IsShapeError(err), "expected ShapeError, got %v", err)
				return
			}
			require.NoError(t, err)
		})
	}

	_, err := inference.NewModelHandle(inference.HandleConfig{
		ID:         "m",
		InputShape: inference.NewShape(1, 640, 640, 3),
		Format:     "ssd",
	}, &inferencetest.Backend{})
	assert.Error(t, err)
}

func TestModelHandle_FeedShape(t *testing.T) {
	h, err := inference.NewModelHandle(inference.HandleConfig{
		ID:         "m",
		InputShape: inference.NewShape(1, 320, 480, 3),
		Layout:     inference.LayoutNCHW,
	}, &inferencetest.Backend{})
	require.NoError(t, err)

	w, ht := h.InputSize()
	assert.Equal(t, 480, w)
	assert.Equal(t, 320, ht)
	assert.Equal(t, inference.NewShape(1, 3, 320, 480), h.FeedShape())
	assert.Equal(t, inference.FormatYOLOv8, h.Format(), "format defaults to yolov8")

	shape := h.InputShape()
	shape[1] = 1
	assert.Equal(t, inference.NewShape(1, 320, 480, 3), h.InputShape(), "InputShape must return a copy")
}

func TestModelHandle_WarmUp(t *testing.T) {
	backend := &inferencetest.Backend{}
	h := inferencetest.Handle(backend)
	ledger := inference.NewLedger()

	require.NoError(t, h.WarmUp(context.Background(), ledger))
	assert.Equal(t, int64(1), backend.Calls())
	assert.Equal(t, []inference.Shape{inference.NewShape(1, 640, 640, 3)}, backend.Inputs())
	assert.Equal(t, int64(2), ledger.Created(), "input and output are tracked")
	assert.Equal(t, int64(0), ledger.Live(), "warm-up must not leak tensors")
}

func TestModelHandle_ExecuteRejectsWrongShape(t *testing.T) {
	h := inferencetest.Handle(&inferencetest.Backend{})
	ledger := inference.NewLedger()

	err := ledger.Scope(func(s *inference.Scope) error {
		in, err := inference.NewFilledTensor(inference.NewShape(1, 3, 640, 640), 0)
		require.NoError(t, err)
		_, err = h.Execute(context.Background(), s, s.Track(in))
		return err
	})

	assert.True(t, inference.IsShapeError(err))
	assert.Equal(t, int64(0), ledger.Live())
}

func TestModelHandle_Close(t *testing.T) {
	backend := &inferencetest.Backend{}
	h := inferencetest.Handle(backend)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.True(t, backend.Closed())

	err := h.WarmUp(context.Background(), inference.NewLedger())
	assert.ErrorIs(t, err, inference.ErrModelClosed)
}
