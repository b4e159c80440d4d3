//go:build !linux

package link

import (
	"errors"
	"net/netip"
	"time"

	"github.com/cerdav/microps"
)

// Tap and PacketSocket are Linux-only (TAP character device, AF_PACKET
// sockets). This build provides stub implementations so the package
// compiles elsewhere; every method that returns an error returns
// errors.ErrUnsupported, and Addr returns the zero MAC.

type Tap struct{}

func NewTap(name string, addr netip.Prefix) (*Tap, error) { return nil, errors.ErrUnsupported }

func (t *Tap) Addr() microps.MacAddr                     { return microps.MacAny }
func (t *Tap) Poll(timeout time.Duration) (bool, error)  { return false, errors.ErrUnsupported }
func (t *Tap) Rx() ([]byte, error)                       { return nil, errors.ErrUnsupported }
func (t *Tap) Tx(frame []byte) error                     { return errors.ErrUnsupported }
func (t *Tap) Close() error                              { return errors.ErrUnsupported }

type PacketSocket struct{}

func NewPacketSocket(name string) (*PacketSocket, error) { return nil, errors.ErrUnsupported }

func (p *PacketSocket) Addr() microps.MacAddr                    { return microps.MacAny }
func (p *PacketSocket) Poll(timeout time.Duration) (bool, error) { return false, errors.ErrUnsupported }
func (p *PacketSocket) Rx() ([]byte, error)                      { return nil, errors.ErrUnsupported }
func (p *PacketSocket) Tx(frame []byte) error                    { return errors.ErrUnsupported }
func (p *PacketSocket) Close() error                             { return errors.ErrUnsupported }
