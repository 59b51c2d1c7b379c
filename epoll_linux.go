// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package jsonlrpc

import (
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// EpollReactor is the reference Reactor implementation: a thin,
// edge-triggered wrapper around epoll_create1/epoll_ctl/epoll_wait. It
// exists so this module has at least one runnable, real non-blocking
// reactor to test and demonstrate against; a caller is free to supply any
// other Reactor implementation instead -- the reactor is always
// caller-supplied, never owned by the core.
type EpollReactor struct {
	epfd int
	// fdToHandle lets Deregister and event translation recover the Handle
	// that was registered for a given descriptor without asking the caller
	// to repeat it.
	fdToHandle map[int]Handle
}

// NewEpollReactor creates a new epoll instance.
func NewEpollReactor() (*EpollReactor, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, xerrors.Errorf("jsonlrpc: epoll_create1: %w", err)
	}
	return &EpollReactor{epfd: fd, fdToHandle: make(map[int]Handle)}, nil
}

func interestToEpollEvents(i Interest) uint32 {
	ev := uint32(unix.EPOLLET) // edge-triggered; level-triggered would work equally well here
	if i.readable() {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if i.writable() {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (r *EpollReactor) Register(handle Handle, conn Pollable, interests Interest) error {
	fd := conn.Fd()
	ev := &unix.EpollEvent{Events: interestToEpollEvents(interests)}
	ev.Fd = int32(fd)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return xerrors.Errorf("jsonlrpc: epoll_ctl(ADD): %w", err)
	}
	r.fdToHandle[fd] = handle
	return nil
}

func (r *EpollReactor) Reregister(handle Handle, conn Pollable, interests Interest) error {
	fd := conn.Fd()
	ev := &unix.EpollEvent{Events: interestToEpollEvents(interests)}
	ev.Fd = int32(fd)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return xerrors.Errorf("jsonlrpc: epoll_ctl(MOD): %w", err)
	}
	r.fdToHandle[fd] = handle
	return nil
}

func (r *EpollReactor) Deregister(conn Pollable) error {
	fd := conn.Fd()
	delete(r.fdToHandle, fd)
	// EPOLL_CTL_DEL with a nil event is valid on Linux; the event argument
	// is ignored for deletions on kernels since 2.6.9, but older kernels
	// required a non-nil pointer, so pass a scratch one for portability.
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{}); err != nil {
		if err == unix.ENOENT || err == unix.EBADF {
			return nil
		}
		return xerrors.Errorf("jsonlrpc: epoll_ctl(DEL): %w", err)
	}
	return nil
}

func (r *EpollReactor) Poll(dst []Event, timeoutMillis int) ([]Event, error) {
	raw := make([]unix.EpollEvent, 256)
	n, err := unix.EpollWait(r.epfd, raw, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, xerrors.Errorf("jsonlrpc: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		handle, ok := r.fdToHandle[fd]
		if !ok {
			continue
		}
		events := raw[i].Events
		dst = append(dst, Event{
			Handle:   handle,
			Readable: events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Writable: events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}
	return dst, nil
}

func (r *EpollReactor) Close() error {
	return unix.Close(r.epfd)
}
