// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package jsonlrpc

import (
	"net"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// rawConn is a non-blocking TCP socket managed directly at the syscall
// level via golang.org/x/sys/unix, rather than a stdlib net.Conn. A
// net.Conn's blocking Read/Write calls are parked goroutines under the Go
// runtime's own netpoller: using one here would hide exactly the
// non-blocking, single-threaded, caller-driven I/O model requires behind
// a second, invisible scheduler. rawConn gives Connection, RpcClient and
// RpcServer real EAGAIN/EINPROGRESS semantics to drive their state machines
// with.
type rawConn struct {
	fd int
}

func (c *rawConn) Read(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if err != nil {
		return 0, classifyIOError("read", err)
	}
	return n, nil
}

func (c *rawConn) Write(p []byte) (int, error) {
	n, err := unix.Write(c.fd, p)
	if err != nil {
		return n, classifyIOError("write", err)
	}
	return n, nil
}

func (c *rawConn) Fd() int { return c.fd }

func (c *rawConn) closeBoth() {
	_ = unix.Shutdown(c.fd, unix.SHUT_RDWR)
	_ = unix.Close(c.fd)
}

func isWouldBlock(err error) bool {
	return xerrors.Is(err, unix.EAGAIN) || xerrors.Is(err, unix.EWOULDBLOCK) || xerrors.Is(err, unix.EINPROGRESS)
}

func resolveSockaddr(addr string) (unix.Sockaddr, *net.TCPAddr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, nil, xerrors.Errorf("jsonlrpc: resolving %q: %w", addr, err)
	}
	ip4 := tcpAddr.IP.To4()
	if ip4 != nil {
		sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa.Addr[:], ip4)
		return sa, tcpAddr, nil
	}
	ip16 := tcpAddr.IP.To16()
	if ip16 == nil {
		// Unspecified address (e.g. resolving ":0"): bind to all interfaces.
		ip16 = net.IPv6zero.To16()
	}
	sa := &unix.SockaddrInet6{Port: tcpAddr.Port}
	copy(sa.Addr[:], ip16)
	return sa, tcpAddr, nil
}

func sockaddrToString(sa unix.Sockaddr) (string, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(sa.Addr[:])
		return (&net.TCPAddr{IP: ip, Port: sa.Port}).String(), nil
	case *unix.SockaddrInet6:
		ip := net.IP(sa.Addr[:])
		return (&net.TCPAddr{IP: ip, Port: sa.Port}).String(), nil
	default:
		return "", xerrors.Errorf("jsonlrpc: unsupported sockaddr type %T", sa)
	}
}

// dialNonblocking opens a non-blocking TCP socket and issues a connect(2)
// that is expected to return EINPROGRESS; completion is observed later via
// connectCompleted.
func dialNonblocking(addr string) (*rawConn, error) {
	sa, tcpAddr, err := resolveSockaddr(addr)
	if err != nil {
		return nil, err
	}
	domain := unix.AF_INET
	if tcpAddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, xerrors.Errorf("jsonlrpc: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, xerrors.Errorf("jsonlrpc: set nonblocking: %w", err)
	}
	c := &rawConn{fd: fd}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS && err != unix.EALREADY {
		unix.Close(fd)
		return nil, xerrors.Errorf("jsonlrpc: connect: %w", err)
	}
	return c, nil
}

// listenNonblocking creates a non-blocking TCP listener bound to addr
// (port 0 permitted for OS assignment), returning the resolved bound
// address.
func listenNonblocking(addr string) (*rawConn, string, error) {
	sa, tcpAddr, err := resolveSockaddr(addr)
	if err != nil {
		return nil, "", err
	}
	domain := unix.AF_INET
	if tcpAddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, "", xerrors.Errorf("jsonlrpc: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, "", xerrors.Errorf("jsonlrpc: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, "", xerrors.Errorf("jsonlrpc: set nonblocking: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, "", xerrors.Errorf("jsonlrpc: bind: %w", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return nil, "", xerrors.Errorf("jsonlrpc: listen: %w", err)
	}
	boundSA, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, "", xerrors.Errorf("jsonlrpc: getsockname: %w", err)
	}
	boundAddr, err := sockaddrToString(boundSA)
	if err != nil {
		unix.Close(fd)
		return nil, "", err
	}
	return &rawConn{fd: fd}, boundAddr, nil
}

const listenBacklog = 256

// acceptNonblocking accepts one pending connection off listener, returning
// ErrWouldBlock when none is pending.
func acceptNonblocking(listener *rawConn) (*rawConn, error) {
	nfd, _, err := unix.Accept4(listener.fd, unix.SOCK_NONBLOCK)
	if err != nil {
		if isWouldBlock(err) {
			return nil, ErrWouldBlock
		}
		return nil, xerrors.Errorf("jsonlrpc: accept: %w", err)
	}
	return &rawConn{fd: nfd}, nil
}

// connectCompleted checks whether a Connecting socket's handshake has
// finished: no pending asynchronous socket error, and peerAddr observably
// succeeds. It returns (false, nil) while the handshake is still pending,
// never an error for that case.
func connectCompleted(c *rawConn) (bool, error) {
	errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return false, xerrors.Errorf("jsonlrpc: getsockopt SO_ERROR: %w", err)
	}
	if errno != 0 {
		return false, xerrors.Errorf("jsonlrpc: connect: %w", unix.Errno(errno))
	}
	if _, err := unix.Getpeername(c.fd); err != nil {
		if err == unix.ENOTCONN {
			return false, nil
		}
		return false, xerrors.Errorf("jsonlrpc: getpeername: %w", err)
	}
	return true, nil
}

// peerAddr returns the remote address of an already-Connected socket.
func peerAddr(c *rawConn) (string, error) {
	sa, err := unix.Getpeername(c.fd)
	if err != nil {
		return "", xerrors.Errorf("jsonlrpc: getpeername: %w", err)
	}
	return sockaddrToString(sa)
}

// setNoDelay requests TCP_NODELAY best-effort; every Connection requests it
// at construction without making it fatal if unsupported.
func setNoDelay(c *rawConn) {
	_ = unix.SetsockoptInt(c.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}
