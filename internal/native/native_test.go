//go:build !nogpu

package native

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gcl/driver"
)

func TestBackendRegistered(t *testing.T) {
	if !driver.IsRegistered(driver.BackendVulkan) {
		t.Fatal("vulkan backend should be registered on import")
	}
	if got := driver.Get(driver.BackendVulkan).Name(); got != driver.BackendVulkan {
		t.Errorf("Name() = %q, want %q", got, driver.BackendVulkan)
	}
}

func TestWrapProviderRejectsNonHAL(t *testing.T) {
	tests := []struct {
		name     string
		provider any
	}{
		{"nil", nil},
		{"plain value", struct{}{}},
		{"wrong types", fakeProvider{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := WrapProvider(tt.provider); err == nil {
				t.Error("WrapProvider() should fail")
			}
		})
	}
}

type fakeProvider struct{}

func (fakeProvider) HalDevice() any { return "device" }
func (fakeProvider) HalQueue() any  { return "queue" }

func TestBufferRoundTripOnGPU(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping GPU test in short mode")
	}
	inst, err := Backend{}.CreateInstance(driver.InstanceDescriptor{})
	if err != nil {
		t.Skipf("vulkan unavailable: %v", err)
	}
	defer inst.Destroy()
	adapters := inst.Adapters()
	if len(adapters) == 0 {
		t.Skip("no vulkan adapters")
	}
	dev, err := adapters[0].Open()
	if err != nil {
		t.Skipf("open adapter: %v", err)
	}
	defer dev.Destroy()

	buf, err := dev.CreateBuffer(driver.BufferDescriptor{
		Label: "roundtrip",
		Size:  16,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	defer dev.DestroyBuffer(buf)

	in := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if err := dev.Queue().WriteBuffer(buf, 0, in); err != nil {
		t.Fatal(err)
	}
	out := make([]byte, len(in))
	if err := dev.Queue().ReadBuffer(buf, 0, out); err != nil {
		t.Fatalf("ReadBuffer() error = %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("ReadBuffer() = %v, want %v", out, in)
		}
	}
	if err := dev.WaitIdle(); err != nil {
		t.Errorf("WaitIdle() error = %v", err)
	}
}

func TestWaitFence(t *testing.T) {
	lost := errors.New("device lost")
	tests := []struct {
		name      string
		signalAt  int
		fail      error
		wantCalls int
	}{
		{"signaled", 1, nil, 1},
		{"keeps waiting past the slice", 4, nil, 4},
		{"error", 0, lost, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := waitFence("test", func(timeout time.Duration) (bool, error) {
				if timeout != idleSlice {
					t.Errorf("timeout = %v, want %v", timeout, idleSlice)
				}
				calls++
				if tt.fail != nil {
					return false, tt.fail
				}
				return calls == tt.signalAt, nil
			})
			if !errors.Is(err, tt.fail) {
				t.Errorf("waitFence() error = %v, want %v", err, tt.fail)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}
