package colorbuffer

import (
	"errors"
	"testing"

	"github.com/nvgpu/eglxpresent/driver"
)

// fakeCB and fakeCallbacks give the pool/buffer tests a driver.CallbackSafe
// without touching real GPU or dma-buf resources.
type fakeCB struct{ freed bool }

func (f *fakeCB) Destroy() { f.freed = true }

type fakeCallbacks struct {
	freed []*fakeCB
}

func (f *fakeCallbacks) ImportColorBuffer(fd int, fourcc uint32, modifier uint64, w, h, stride int) (driver.ColorBuffer, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeCallbacks) AllocColorBuffer(fourcc uint32, mods []uint64, w, h int) (driver.ColorBuffer, error) {
	return &fakeCB{}, nil
}
func (f *fakeCallbacks) FreeColorBuffer(cb driver.ColorBuffer) {
	f.freed = append(f.freed, cb.(*fakeCB))
	cb.(*fakeCB).Destroy()
}
func (f *fakeCallbacks) ExportColorBuffer(cb driver.ColorBuffer) (int, error) { return -1, errors.New("not implemented") }
func (f *fakeCallbacks) CopyColorBuffer(dst, src driver.ColorBuffer) error    { return nil }
func (f *fakeCallbacks) CreateNativeFenceSync() (driver.Sync, error)         { return nil, errors.New("not implemented") }
func (f *fakeCallbacks) DupNativeFenceFD(s driver.Sync) (int, error)         { return -1, errors.New("not implemented") }
func (f *fakeCallbacks) WaitSync(s driver.Sync) error                        { return nil }

func TestBufferDestroyFreesColorBufferOnce(t *testing.T) {
	cbs := &fakeCallbacks{}
	cb := &fakeCB{}
	b := &Buffer{CB: cb}
	b.Destroy(cbs)
	if !cb.freed {
		t.Error("Destroy did not free the driver color buffer")
	}
	if b.CB != nil {
		t.Error("Destroy should clear CB so a second Destroy is a no-op")
	}
	// Second call must not panic or double-free.
	b.Destroy(cbs)
	if len(cbs.freed) != 1 {
		t.Errorf("FreeColorBuffer called %d times, want exactly 1", len(cbs.freed))
	}
}

func TestBufferDestroyNilCBIsNoop(t *testing.T) {
	b := &Buffer{}
	b.Destroy(&fakeCallbacks{}) // must not panic
}
