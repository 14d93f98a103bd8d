package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// promptApprove implements gate.ApproveFunc for an interactive terminal: it
// prints a generic rationale prompt to stderr and blocks on a single line of stdin,
// treating it as the rationale. Context cancellation (e.g. a timeout
// imposed by the caller) aborts the read.
func promptApprove(ctx context.Context) (string, error) {
	fmt.Fprint(os.Stderr, "Manual approval required. Enter rationale: ")

	lineCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			lineCh <- scanner.Text()
			return
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
			return
		}
		errCh <- fmt.Errorf("stdin closed before rationale was entered")
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errCh:
		return "", err
	case line := <-lineCh:
		return strings.TrimSpace(line), nil
	}
}
