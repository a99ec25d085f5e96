// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xauth manages the X authority file of one session.
//
// The file holds MIT-MAGIC-COOKIE-1 records in the Xauthority format:
// a big-endian uint16 address family followed by four fields, each a
// big-endian uint16 length and that many bytes: address, display number,
// authorization name and authorization data. Records are written with
// FamilyWild so that the cookie matches whatever host name the client
// connects with.
package xauth

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	// FamilyWild matches any address.
	FamilyWild = 0xffff
	// CookieName is the only authorization scheme written.
	CookieName = "MIT-MAGIC-COOKIE-1"
	// CookieLen is the length of a cookie in bytes.
	CookieLen = 16
)

var (
	// ErrBadCookie is returned for an empty or all-zero cookie.
	ErrBadCookie = errors.New("cookie is empty or all zero")
	// ErrBadDisplay is returned for a display name that is not :<N>.
	ErrBadDisplay = errors.New("display name is not of the form :N")

	// random is the cookie source.
	random io.Reader = rand.Reader
)

// AuthorityError is returned when the authority file can not be prepared
// or written.
type AuthorityError struct {
	Op   string
	Path string
	Err  error
}

func (e *AuthorityError) Error() string {
	return fmt.Sprintf("xauth %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *AuthorityError) Unwrap() error {
	return e.Err
}

// Record is one entry of an authority file.
type Record struct {
	Family  uint16
	Address []byte
	Number  string
	Name    string
	Data    []byte
}

// Authority is the authority file of one session. Its path does not
// change for the life of the session.
type Authority struct {
	dir  string
	path string
}

// New returns an Authority for a file in dir. The file name is unique, so
// several sessions may share dir.
func New(dir string) *Authority {
	return &Authority{dir: dir, path: filepath.Join(dir, "xauth_"+uuid.NewString())}
}

// Path returns the authority file path.
func (a *Authority) Path() string {
	return a.path
}

// Setup creates the directory, if needed, and an empty authority file,
// discarding any previous one.
func (a *Authority) Setup() error {
	if err := os.MkdirAll(a.dir, 0o700); err != nil {
		return &AuthorityError{Op: "mkdir", Path: a.dir, Err: err}
	}
	if err := a.Revoke(); err != nil {
		return err
	}
	f, err := os.OpenFile(a.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return &AuthorityError{Op: "create", Path: a.path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &AuthorityError{Op: "create", Path: a.path, Err: err}
	}
	return nil
}

// Issue appends a record with a fresh random cookie for display.
func (a *Authority) Issue(display string) error {
	cookie := make([]byte, CookieLen)
	if _, err := io.ReadFull(random, cookie); err != nil {
		return &AuthorityError{Op: "cookie", Path: a.path, Err: err}
	}
	return a.issue(display, cookie)
}

func (a *Authority) issue(display string, cookie []byte) error {
	if !validCookie(cookie) {
		return &AuthorityError{Op: "issue", Path: a.path, Err: ErrBadCookie}
	}
	n, err := Number(display)
	if err != nil {
		return &AuthorityError{Op: "issue", Path: a.path, Err: err}
	}
	var b bytes.Buffer
	r := Record{Family: FamilyWild, Number: n, Name: CookieName, Data: cookie}
	if err := r.write(&b); err != nil {
		return &AuthorityError{Op: "issue", Path: a.path, Err: err}
	}
	f, err := os.OpenFile(a.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return &AuthorityError{Op: "issue", Path: a.path, Err: err}
	}
	if _, err := f.Write(b.Bytes()); err != nil {
		f.Close()
		return &AuthorityError{Op: "issue", Path: a.path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &AuthorityError{Op: "issue", Path: a.path, Err: err}
	}
	return nil
}

// Revoke removes the authority file. A missing file is not an error.
func (a *Authority) Revoke() error {
	if err := os.Remove(a.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &AuthorityError{Op: "remove", Path: a.path, Err: err}
	}
	return nil
}

func validCookie(c []byte) bool {
	for _, b := range c {
		if b != 0 {
			return true
		}
	}
	return false
}

// Number returns the display number of a display name, e.g. "7" for ":7".
// A screen suffix, as in ":7.0", is dropped.
func Number(display string) (string, error) {
	n, ok := strings.CutPrefix(display, ":")
	if !ok {
		return "", fmt.Errorf("%q: %w", display, ErrBadDisplay)
	}
	n, _, _ = strings.Cut(n, ".")
	if n == "" {
		return "", fmt.Errorf("%q: %w", display, ErrBadDisplay)
	}
	for _, c := range n {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("%q: %w", display, ErrBadDisplay)
		}
	}
	return n, nil
}

func (r *Record) write(w io.Writer) error {
	if err := binary.Write(w, binary.BigEndian, r.Family); err != nil {
		return err
	}
	for _, f := range [][]byte{r.Address, []byte(r.Number), []byte(r.Name), r.Data} {
		if len(f) > 0xffff {
			return fmt.Errorf("field of %d bytes is too long", len(f))
		}
		if err := binary.Write(w, binary.BigEndian, uint16(len(f))); err != nil {
			return err
		}
		if _, err := w.Write(f); err != nil {
			return err
		}
	}
	return nil
}

// ParseRecords reads every record of an authority file.
func ParseRecords(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)
	var recs []Record
	for {
		var rec Record
		if err := binary.Read(br, binary.BigEndian, &rec.Family); err != nil {
			if err == io.EOF {
				return recs, nil
			}
			return nil, fmt.Errorf("record %d: family: %w", len(recs), err)
		}
		var fields [4][]byte
		for i := range fields {
			var n uint16
			if err := binary.Read(br, binary.BigEndian, &n); err != nil {
				return nil, fmt.Errorf("record %d: field %d: %w", len(recs), i, noEOF(err))
			}
			fields[i] = make([]byte, n)
			if _, err := io.ReadFull(br, fields[i]); err != nil {
				return nil, fmt.Errorf("record %d: field %d: %w", len(recs), i, noEOF(err))
			}
		}
		rec.Address, rec.Number, rec.Name, rec.Data = fields[0], string(fields[1]), string(fields[2]), fields[3]
		recs = append(recs, rec)
	}
}

// A record cut short is corrupt, not finished.
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
