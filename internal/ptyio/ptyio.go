// Package ptyio opens raw-mode pseudo-terminal pairs so an emulated serial
// endpoint can be reached through a tty path, the same way a USB CDC device
// would be.
//
//	p, err := ptyio.Open(logger)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//	// p.TTYName() -> "/dev/pts/X"; serve on p, open the path elsewhere
package ptyio

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// Stats counts bytes moved through the master side.
type Stats struct {
	ReadBytesTotal  uint64
	WriteBytesTotal uint64
}

// PTY is the master side of a pair; reads return what the slave wrote.
type PTY struct {
	logger  *logrus.Logger
	master  *os.File
	slave   *os.File
	ttyName string

	closeOnce  sync.Once
	readBytes  atomic.Uint64
	writeBytes atomic.Uint64
}

var _ io.ReadWriteCloser = (*PTY)(nil)

// Open creates a pair with the slave in raw mode. The slave stays open for
// the lifetime of the PTY so the tty path remains valid.
func Open(logger *logrus.Logger) (*PTY, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	master, slave, err := createPTY()
	if err != nil {
		return nil, err
	}
	return &PTY{
		logger:  logger,
		master:  master,
		slave:   slave,
		ttyName: slave.Name(),
	}, nil
}

func (p *PTY) Read(b []byte) (int, error) {
	n, err := p.master.Read(b)
	p.readBytes.Add(uint64(n))
	return n, err
}

func (p *PTY) Write(b []byte) (int, error) {
	n, err := p.master.Write(b)
	p.writeBytes.Add(uint64(n))
	return n, err
}

// Slave returns the slave side, for in-process peers.
func (p *PTY) Slave() *os.File {
	return p.slave
}

// TTYName returns the slave path, e.g. "/dev/pts/5".
func (p *PTY) TTYName() string {
	return p.ttyName
}

func (p *PTY) Stats() Stats {
	return Stats{
		ReadBytesTotal:  p.readBytes.Load(),
		WriteBytesTotal: p.writeBytes.Load(),
	}
}

// Close closes both sides; blocked reads return.
func (p *PTY) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if cerr := p.master.Close(); cerr != nil {
			p.logger.Warnf("failed to close PTY(ptmx): %v", cerr)
			err = cerr
		}
		if cerr := p.slave.Close(); cerr != nil {
			p.logger.Warnf("failed to close PTY(tty): %v", cerr)
			if err == nil {
				err = cerr
			}
		}
	})
	return err
}

// createPTY creates a pseudo-terminal and puts the slave in raw mode.
func createPTY() (master *os.File, slave *os.File, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	if err := makeRaw(slave); err != nil {
		ptyPath := slave.Name()

		var cleanupErrs []error
		if closeErr := master.Close(); closeErr != nil {
			cleanupErrs = append(cleanupErrs, fmt.Errorf("close PTY(ptmx): %w", closeErr))
		}
		if closeErr := slave.Close(); closeErr != nil {
			cleanupErrs = append(cleanupErrs, fmt.Errorf("close PTY(tty): %w", closeErr))
		}
		if len(cleanupErrs) > 0 {
			return nil, nil, fmt.Errorf("failed to set PTY(tty) %s to raw mode: %w (cleanup errors: %v)", ptyPath, err, cleanupErrs)
		}
		return nil, nil, fmt.Errorf("failed to set PTY(tty) %s to raw mode: %w", ptyPath, err)
	}
	return master, slave, nil
}

// makeRaw puts f in raw mode through its raw connection. f.Fd would switch
// f to blocking mode, after which Close no longer interrupts a Read.
func makeRaw(f *os.File) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var rawErr error
	if err := rc.Control(func(fd uintptr) {
		_, rawErr = term.MakeRaw(int(fd))
	}); err != nil {
		return err
	}
	return rawErr
}
