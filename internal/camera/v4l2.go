package camera

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	vidiocQuerycap = 0x80685600
	vidiocSetFmt   = 0xC0D05605

	v4l2BufTypeVideoCapture = 1
	v4l2PixFmtRGB24         = 0x33424752 // 'RGB3' little endian
	v4l2FieldNone           = 1

	v4l2CapVideoCapture = 0x00000001
	v4l2CapDeviceCaps   = 0x80000000
)

type v4l2Capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

type v4l2PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

type v4l2Format struct {
	Type uint32
	_    uint32 // alignment padding before the format union
	fmt  [200]byte
}

// V4L2Input is a configured V4L2 capture device delivering RGB24 frames.
type V4L2Input struct {
	device Device
	fd     int
	format FrameFormat
}

// OpenInput opens the device node and negotiates an RGB24 capture format at
// the requested geometry. The driver may adjust width/height; the negotiated
// values are reported through Format.
func OpenInput(device Device, width int, height int) (*V4L2Input, error) {
	fd, err := unix.Open(device.ID, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open capture device %q: %w", device.ID, err)
	}

	var format v4l2Format
	format.Type = v4l2BufTypeVideoCapture
	pix := (*v4l2PixFormat)(unsafe.Pointer(&format.fmt[0]))
	pix.Width = uint32(width)
	pix.Height = uint32(height)
	pix.PixelFormat = v4l2PixFmtRGB24
	pix.Field = v4l2FieldNone

	if err := ioctl(fd, vidiocSetFmt, unsafe.Pointer(&format)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("negotiate capture format on %q: %w", device.ID, err)
	}
	if pix.PixelFormat != v4l2PixFmtRGB24 {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("device %q does not support RGB24 capture", device.ID)
	}

	return &V4L2Input{
		device: device,
		fd:     fd,
		format: FrameFormat{
			Width:       int(pix.Width),
			Height:      int(pix.Height),
			PixelFormat: PixelFormatRGB24,
			FrameSize:   int(pix.Width) * int(pix.Height) * 3,
		},
	}, nil
}

// Device returns the discovery metadata for this input.
func (i *V4L2Input) Device() Device {
	return i.device
}

// Format returns the negotiated capture geometry.
func (i *V4L2Input) Format() FrameFormat {
	return i.format
}

// ReadFrame fills buf with the next captured frame. The descriptor is
// non-blocking; readiness is awaited with a bounded poll so a stopped session
// never hangs in read(2).
func (i *V4L2Input) ReadFrame(buf []byte) (int, error) {
	fds := []unix.PollFd{{Fd: int32(i.fd), Events: unix.POLLIN}}
	if _, err := unix.Poll(fds, 100); err != nil {
		return 0, err
	}
	return unix.Read(i.fd, buf)
}

// Close releases the device node.
func (i *V4L2Input) Close() error {
	return unix.Close(i.fd)
}

// isCaptureNode reports whether a video node advertises the capture capability.
// Metadata-only nodes (e.g. /dev/videoN companions) are filtered out.
func isCaptureNode(node string) bool {
	fd, err := unix.Open(node, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		// Unopenable nodes stay listed; availability is tracked separately.
		return true
	}
	defer unix.Close(fd)

	var caps v4l2Capability
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&caps)); err != nil {
		return false
	}

	capabilities := caps.Capabilities
	if capabilities&v4l2CapDeviceCaps != 0 {
		capabilities = caps.DeviceCaps
	}
	return capabilities&v4l2CapVideoCapture != 0
}

// isTransientReadError reports read failures the pump should retry.
func isTransientReadError(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}

// ioctl issues one ioctl request against an open descriptor.
func ioctl(fd int, request uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), request, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
