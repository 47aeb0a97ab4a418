// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Command gen-testdata writes "hexkey:value" lines for benchmarks.
//
//	gen-testdata -n 1000000 -m 65535 > testdata.large
package main

import (
	"bufio"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"

	"github.com/timtadh/getopt"
)

const (
	defaultPairs = 1000000
	defaultMax   = 1<<16 - 1
	suffixLen    = 16
	hmacKey      = "d259c7f656caf7f1"
)

var usageMessage = `gen-testdata [options]

Writes n lines of the form hexkey:value to stdout.  Keys are distinct
HMAC-SHA256 digests of random strings; values are uniform in [0, max].

Options
    -h, --help          print this message
    -n, --count=<n>     number of lines (default 1000000)
    -m, --max=<max>     largest value (default 65535)
    -s, --seed=<seed>   seed the generator for reproducible output
`

func usage(code int) {
	fmt.Fprint(os.Stderr, usageMessage)
	os.Exit(code)
}

func parseUint(opt, arg string) uint64 {
	n, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad value for %s: %q\n", opt, arg)
		usage(2)
	}
	return n
}

func randomSeed() int64 {
	var seedBytes [8]byte
	if _, err := crand.Read(seedBytes[:]); err != nil {
		panic(err)
	}
	return int64(binary.LittleEndian.Uint64(seedBytes[:]))
}

func main() {
	_, optargs, err := getopt.GetOpt(
		os.Args[1:],
		"hn:m:s:",
		[]string{"help", "count=", "max=", "seed="},
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage(2)
	}

	count := uint64(defaultPairs)
	maxValue := uint64(defaultMax)
	seed := randomSeed()
	for _, oa := range optargs {
		switch oa.Opt() {
		case "-h", "--help":
			usage(0)
		case "-n", "--count":
			count = parseUint(oa.Opt(), oa.Arg())
		case "-m", "--max":
			maxValue = parseUint(oa.Opt(), oa.Arg())
		case "-s", "--seed":
			seed = int64(parseUint(oa.Opt(), oa.Arg()))
		default:
			fmt.Fprintf(os.Stderr, "Unknown flag '%v'\n", oa.Opt())
			usage(2)
		}
	}

	if err := generate(bufio.NewWriter(os.Stdout), count, maxValue, rand.New(rand.NewSource(seed))); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func generate(w *bufio.Writer, count, maxValue uint64, rng *rand.Rand) error {
	h := hmac.New(sha256.New, []byte(hmacKey))
	var buf [suffixLen / 2]byte
	for i := uint64(0); i < count; i++ {
		if _, err := rng.Read(buf[:]); err != nil {
			return err
		}
		h.Reset()
		h.Write(buf[:])
		key := hex.EncodeToString(h.Sum(nil))

		var value uint64
		switch {
		case maxValue == math.MaxUint64:
			value = rng.Uint64()
		case maxValue >= math.MaxInt64:
			value = rng.Uint64() % (maxValue + 1)
		default:
			value = uint64(rng.Int63n(int64(maxValue) + 1))
		}
		if _, err := fmt.Fprintf(w, "%s:%d\n", key, value); err != nil {
			return err
		}
	}
	return w.Flush()
}
