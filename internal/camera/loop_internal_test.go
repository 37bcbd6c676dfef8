package camera

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/polecam/internal/errors"
)

func TestStepError_Priority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		priority string
	}{
		{"stream failure", errors.NewStd("stream refused"), errors.PriorityMedium},
		{"device lost", fmt.Errorf("start streaming: %w", ErrDeviceLost), errors.PriorityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ee := stepError("cam-1", 3, "start-streaming", errors.CategoryCameraStream, tt.err)

			assert.Equal(t, tt.priority, ee.Priority)
			assert.Equal(t, "camera", ee.GetComponent())
			assert.Equal(t, string(errors.CategoryCameraStream), ee.GetCategory())
			assert.Equal(t, "start-streaming", ee.GetContext()["operation"])
			assert.Equal(t, "cam-1", ee.GetContext()["camera_id"])
			assert.ErrorIs(t, ee, tt.err)
		})
	}
}
