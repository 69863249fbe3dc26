package gxserialbridge

// --------------------------------------------------------------------------
//
//	Gurux Ltd
//
// Filename:        $HeadURL$
//
// Version:         $Revision$,
//
//	$Date$
//	$Author$
//
// # Copyright (c) Gurux Ltd
//
// ---------------------------------------------------------------------------
//
//	DESCRIPTION
//
// This file is a part of Gurux Device Framework.
//
// Gurux Device Framework is Open Source software; you can redistribute it
// and/or modify it under the terms of the GNU General Public License
// as published by the Free Software Foundation; version 2 of the License.
// Gurux Device Framework is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU General Public License for more details.
//
// More information of Gurux products: https://www.gurux.org
//
// This code is licensed under the GNU General Public License v2.
// Full text may be retrieved at http://www.gnu.org/licenses/gpl-2.0.txt
// ---------------------------------------------------------------------------

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PseudoDevice is a pseudo-terminal pair whose slave side stands in for a
// serial device. The master side is driven by the relay; the slave is kept
// open only to hold the pair alive. The slave can be published under a
// stable path as a symbolic link.
type PseudoDevice struct {
	publishPath string
	mode        os.FileMode
	log         zerolog.Logger

	mu        sync.Mutex
	master    *port
	slave     *os.File
	slaveName string
	published bool
	tempLink  string
	created   bool
	closed    bool
}

// PseudoDeviceOption configures a PseudoDevice.
type PseudoDeviceOption func(*PseudoDevice)

// WithDeviceLogger sets the logger used for device lifecycle events.
func WithDeviceLogger(log zerolog.Logger) PseudoDeviceOption {
	return func(d *PseudoDevice) {
		d.log = log
	}
}

// WithDeviceMode widens the slave device permissions after creation so
// unprivileged serial programs can open the published path.
func WithDeviceMode(mode os.FileMode) PseudoDeviceOption {
	return func(d *PseudoDevice) {
		d.mode = mode
	}
}

// ValidateDevicePath checks a caller-chosen publish path: it must be
// absolute, must not contain a ".." segment, and its parent directory must
// exist and be writable.
func ValidateDevicePath(path string) error {
	if !filepath.IsAbs(path) {
		return &ConfigurationError{Field: "device path", Value: path, Err: errors.New("path must be absolute")}
	}
	if slices.Contains(strings.Split(filepath.ToSlash(path), "/"), "..") {
		return &ConfigurationError{Field: "device path", Value: path, Err: errors.New("path must not contain parent directory segments")}
	}
	parent := filepath.Dir(path)
	info, err := os.Stat(parent)
	if err != nil {
		return &ConfigurationError{Field: "device path", Value: path, Err: fmt.Errorf("parent directory: %w", err)}
	}
	if !info.IsDir() {
		return &ConfigurationError{Field: "device path", Value: path, Err: fmt.Errorf("parent %s is not a directory", parent)}
	}
	if err := checkWritable(parent); err != nil {
		return &ConfigurationError{Field: "device path", Value: path, Err: fmt.Errorf("parent directory %s is not writable: %w", parent, err)}
	}
	return nil
}

// NewPseudoDevice validates publishPath (if not empty) and returns a device
// ready for Create. No OS resource is touched when validation fails.
func NewPseudoDevice(publishPath string, opts ...PseudoDeviceOption) (*PseudoDevice, error) {
	if publishPath != "" {
		if err := ValidateDevicePath(publishPath); err != nil {
			return nil, err
		}
	}
	d := &PseudoDevice{publishPath: publishPath, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Create allocates the pseudo-terminal pair, puts the slave into raw mode
// and publishes it. A failed publication is logged and the device falls
// back to its native name. An existing non-link file at the publish path
// is never replaced.
func (d *PseudoDevice) Create() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrStopped
	}
	if d.created {
		return nil
	}
	master, slave, err := openPseudoTerminal()
	if err != nil {
		return &DeviceError{Op: "open pseudo-terminal", Err: err}
	}
	mp, err := newPort(master)
	if err != nil {
		_ = master.Close()
		_ = slave.Close()
		return &DeviceError{Op: "configure pseudo-terminal", Err: err}
	}
	d.master = mp
	d.slave = slave
	d.slaveName = slave.Name()

	if err := makeRaw(int(slave.Fd())); err != nil {
		// The pair still moves bytes; only translation may leak through.
		d.log.Warn().Err(err).Str("device", d.slaveName).Msg("failed to set raw mode")
	}

	if d.publishPath != "" {
		if err := d.removeExistingLink(); err != nil {
			d.closeDescriptors()
			return err
		}
		if err := d.publish(); err != nil {
			d.log.Warn().Err(err).Str("path", d.publishPath).Msg("failed to create symlink")
			d.log.Info().Str("device", d.slaveName).Msg("using default device name")
		} else {
			d.published = true
			d.log.Info().Str("path", d.publishPath).Str("target", d.slaveName).Msg("created symlink")
		}
	}
	if d.mode != 0 {
		if err := os.Chmod(d.slaveName, d.mode); err != nil {
			d.log.Warn().Err(err).Str("device", d.slaveName).Msg("failed to set device permissions")
		}
	}
	d.created = true
	d.log.Info().Str("device", d.displayPath()).Msg("virtual serial device created")
	return nil
}

func (d *PseudoDevice) removeExistingLink() error {
	info, err := os.Lstat(d.publishPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &DeviceError{Op: "stat", Path: d.publishPath, Err: err}
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return &ConfigurationError{Field: "device path", Value: d.publishPath, Err: errors.New("path exists but is not a symlink")}
	}
	if err := os.Remove(d.publishPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &DeviceError{Op: "remove symlink", Path: d.publishPath, Err: err}
	}
	d.log.Info().Str("path", d.publishPath).Msg("removed existing symlink")
	return nil
}

// publish swaps a fully formed link into place: a temporary link is made
// first and then renamed onto the final path.
func (d *PseudoDevice) publish() error {
	d.tempLink = fmt.Sprintf("%s.tmp.%d", d.publishPath, os.Getpid())
	_ = os.Remove(d.tempLink)
	if err := os.Symlink(d.slaveName, d.tempLink); err != nil {
		d.tempLink = ""
		return err
	}
	if err := os.Rename(d.tempLink, d.publishPath); err != nil {
		if rmErr := os.Remove(d.tempLink); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			d.log.Debug().Err(rmErr).Str("path", d.tempLink).Msg("failed to remove temporary symlink")
		}
		d.tempLink = ""
		return err
	}
	d.tempLink = ""
	return nil
}

// SlaveName returns the OS-assigned slave device path.
func (d *PseudoDevice) SlaveName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.slaveName
}

// PublishedPath returns the stable path if publication succeeded.
func (d *PseudoDevice) PublishedPath() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.published {
		return d.publishPath
	}
	return ""
}

// DisplayPath returns the path users should open: the published link, or
// the native slave name when there is none.
func (d *PseudoDevice) DisplayPath() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.displayPath()
}

func (d *PseudoDevice) displayPath() string {
	if d.published {
		return d.publishPath
	}
	return d.slaveName
}

// Created reports whether Create succeeded and Close has not run.
func (d *PseudoDevice) Created() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created && !d.closed
}

// Valid reports whether the master descriptor is still usable.
func (d *PseudoDevice) Valid() bool {
	d.mu.Lock()
	m := d.master
	d.mu.Unlock()
	return m != nil && m.valid()
}

func (d *PseudoDevice) waitReadable(timeout time.Duration) (bool, error) {
	return d.masterPort().waitReadable(timeout)
}

func (d *PseudoDevice) waitWritable(timeout time.Duration) (bool, error) {
	return d.masterPort().waitWritable(timeout)
}

func (d *PseudoDevice) read(buf []byte) (int, error) {
	return d.masterPort().read(buf)
}

func (d *PseudoDevice) write(data []byte) (int, error) {
	return d.masterPort().write(data)
}

func (d *PseudoDevice) valid() bool {
	return d.Valid()
}

func (d *PseudoDevice) masterPort() *port {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.master == nil {
		return &port{}
	}
	return d.master
}

// Close removes the published link and any orphaned temporary link, then
// closes both descriptors. It is safe to call more than once.
func (d *PseudoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.published {
		d.unpublish()
		d.published = false
	}
	if d.tempLink != "" {
		_ = os.Remove(d.tempLink)
		d.tempLink = ""
	}
	return d.closeDescriptors()
}

func (d *PseudoDevice) unpublish() {
	target, err := os.Readlink(d.publishPath)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil || target != d.slaveName {
		d.log.Warn().Str("path", d.publishPath).Str("target", target).Msg("symlink was replaced; leaving it in place")
		return
	}
	err = os.Remove(d.publishPath)
	if errors.Is(err, fs.ErrPermission) {
		err = removeWithWidenedParent(d.publishPath)
	}
	switch {
	case err == nil:
		d.log.Info().Str("path", d.publishPath).Msg("removed symlink")
	case errors.Is(err, fs.ErrNotExist):
	default:
		d.log.Warn().Err(err).Str("path", d.publishPath).Msg("failed to remove symlink")
	}
}

// removeWithWidenedParent grants the owner write access to the parent
// directory, retries the unlink once and restores the original mode.
func removeWithWidenedParent(path string) error {
	parent := filepath.Dir(path)
	info, err := os.Stat(parent)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	if err := os.Chmod(parent, mode|0o300); err != nil {
		return err
	}
	defer os.Chmod(parent, mode) //nolint:errcheck
	return os.Remove(path)
}

func (d *PseudoDevice) closeDescriptors() error {
	var errs []error
	if d.master != nil {
		if err := d.master.close(); err != nil && !errors.Is(err, os.ErrClosed) {
			d.log.Debug().Err(err).Msg("error closing master")
			errs = append(errs, err)
		}
	}
	if d.slave != nil {
		if err := d.slave.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			d.log.Debug().Err(err).Msg("error closing slave")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
