// Package util provides the checksum helpers shared by the manifest and
// package code. The manifest records MD5 digests as lowercase hex strings,
// so everything here works in that representation.
package util

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"
	"os"
)

// An MD5Writer wraps an io.Writer and also calculates the MD5 hash of the
// bytes written through it.
type MD5Writer struct {
	io.Writer // our io.MultiWriter
	md5       hash.Hash
}

// NewMD5Writer returns an MD5Writer wrapping w.
func NewMD5Writer(w io.Writer) *MD5Writer {
	hw := &MD5Writer{
		md5: md5.New(),
	}
	hw.Writer = io.MultiWriter(w, hw.md5)
	return hw
}

// SumHex returns the hex digest of everything written so far.
func (hw *MD5Writer) SumHex() string {
	return hex.EncodeToString(hw.md5.Sum(nil))
}

// Check compares the current digest against goal. An empty goal is treated
// as matching.
func (hw *MD5Writer) Check(goal string) bool {
	return goal == "" || goal == hw.SumHex()
}

// MD5Reader hashes r to completion and returns the hex digest. The data is
// streamed through a fixed-size buffer, so large files are fine.
// The reader is not closed when finished.
func MD5Reader(r io.Reader) (string, error) {
	h := md5.New()
	_, err := io.Copy(h, r)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MD5File returns the hex MD5 digest of the file at path.
func MD5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return MD5Reader(f)
}

// VerifyFileMD5 rehashes the file at path and compares against the expected
// hex digest. A missing file is an error, not a mismatch.
func VerifyFileMD5(path, expected string) (bool, error) {
	digest, err := MD5File(path)
	if err != nil {
		return false, err
	}
	return digest == expected, nil
}
