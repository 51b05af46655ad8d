package util

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// digest of "hello world", computed with md5sum
const helloDigest = "5eb63bbbe01eeed093cb22bb8f5acdc3"

func TestMD5Writer(t *testing.T) {
	hw := NewMD5Writer(ioutil.Discard)
	hw.Write([]byte("hello "))
	hw.Write([]byte("world"))
	if hw.SumHex() != helloDigest {
		t.Errorf("Received %s, expected %s", hw.SumHex(), helloDigest)
	}
	if !hw.Check(helloDigest) {
		t.Errorf("Check failed for matching digest")
	}
	if !hw.Check("") {
		t.Errorf("Check failed for empty goal")
	}
	if hw.Check(strings.Repeat("0", 32)) {
		t.Errorf("Check passed for wrong digest")
	}
}

func TestMD5File(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "a.bin")
	if err := ioutil.WriteFile(fname, []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	digest, err := MD5File(fname)
	if err != nil {
		t.Fatal(err)
	}
	if digest != helloDigest {
		t.Errorf("Received %s, expected %s", digest, helloDigest)
	}

	ok, err := VerifyFileMD5(fname, helloDigest)
	if err != nil || !ok {
		t.Errorf("Received (%v, %v), expected match", ok, err)
	}
	ok, _ = VerifyFileMD5(fname, strings.Repeat("0", 32))
	if ok {
		t.Errorf("Verify passed for wrong digest")
	}
	_, err = VerifyFileMD5(filepath.Join(dir, "missing"), helloDigest)
	if !os.IsNotExist(err) {
		t.Errorf("Received %v, expected not-exist error", err)
	}
}
