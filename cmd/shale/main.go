// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// shale is a benchmarking/introspection tool for shale stores.
package main

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shaledb/shale"
	"github.com/shaledb/shale/vfs"
	"github.com/spf13/cobra"
)

var (
	benchBlockSize  int64
	benchBlockCount int
	benchValueSize  int
	benchDuration   time.Duration
	benchWipe       bool
)

var rootCmd = &cobra.Command{
	Use:   "shale [command] (flags)",
	Short: "shale benchmarking/introspection tool",
	Long:  ``,
}

var stateCmd = &cobra.Command{
	Use:   "state <dir>",
	Short: "print the persistent state snapshot of a store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, err := shale.DescribeState(vfs.Default, args[0])
		if err != nil {
			return err
		}
		fmt.Print(desc)
		return nil
	},
}

var benchCmd = &cobra.Command{
	Use:   "bench <dir>",
	Short: "run a simple write/read workload against a store",
	Args:  cobra.ExactArgs(1),
	RunE:  runBench,
}

func runBench(cmd *cobra.Command, args []string) error {
	dirname := args[0]
	if benchWipe {
		if err := os.RemoveAll(dirname); err != nil {
			return err
		}
	}
	s, err := shale.Open(dirname, &shale.Options{
		BlockSize:  benchBlockSize,
		BlockCount: benchBlockCount,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	value := make([]byte, benchValueSize)
	if _, err := rand.Read(value); err != nil {
		return err
	}

	var puts, gets, misses, exhausted uint64
	start := time.Now()
	for i := uint64(0); time.Since(start) < benchDuration; i++ {
		copy(value, fmt.Sprintf("%d", i))
		key := sha256.Sum256(value)
		switch err := s.Put(key[:], value); {
		case err == nil:
			puts++
		case shale.IsResourceExhausted(err):
			exhausted++
			if err := s.Sync(); err != nil {
				return err
			}
			continue
		default:
			return err
		}
		switch _, err := s.Get(key[:]); {
		case err == nil:
			gets++
		case shale.IsNotFound(err):
			misses++
		default:
			return err
		}
	}
	elapsed := time.Since(start)

	fmt.Printf("%d puts, %d gets (%d misses), %d exhausted in %s\n",
		puts, gets, misses, exhausted, elapsed.Round(time.Millisecond))
	fmt.Printf("%.1f ops/sec\n", float64(puts+gets)/elapsed.Seconds())
	fmt.Println(s.Metrics())
	return nil
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(
		stateCmd,
		benchCmd,
	)

	benchCmd.Flags().Int64Var(
		&benchBlockSize, "block-size", 1<<20, "block size in bytes")
	benchCmd.Flags().IntVar(
		&benchBlockCount, "block-count", 8, "number of block slots")
	benchCmd.Flags().IntVar(
		&benchValueSize, "value", 1024, "size of values to write")
	benchCmd.Flags().DurationVarP(
		&benchDuration, "duration", "d", 10*time.Second, "the duration to run")
	benchCmd.Flags().BoolVarP(
		&benchWipe, "wipe", "w", false, "wipe the store before starting")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
