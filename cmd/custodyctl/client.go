package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"vestvault/crypto"
	"vestvault/services/custodyd/recon"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// newSignedRequest builds a request carrying the X-Timestamp, X-Nonce and
// X-Signature headers custodyd verifies. Every request gets a fresh nonce.
func newSignedRequest(key *crypto.PrivateKey, method, server, path string, body []byte, now time.Time) (*http.Request, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	ts := now.Unix()
	nonce := uuid.NewString()
	sig, err := crypto.SignRequest(key, method, path, ts, nonce, body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(method, strings.TrimRight(server, "/")+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Nonce", nonce)
	req.Header.Set("X-Signature", hex.EncodeToString(sig))
	return req, nil
}

func send(req *http.Request, out io.Writer) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, strings.TrimSpace(string(body)))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	return nil
}

func printRecon(out io.Writer, result *recon.Result) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tLABEL\tADDRESS\tTRACKED\tACTUAL\tDRIFT\tSTATUS")
	for _, row := range result.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n", row.Kind, row.Label, row.Address, row.Tracked, row.Actual, row.Drift, row.Status)
	}
	tw.Flush()
	if result.CSVPath != "" {
		fmt.Fprintf(out, "csv: %s\nparquet: %s\n", result.CSVPath, result.ParquetPath)
	}
}
