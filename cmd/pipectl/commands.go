package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/contentflow/webhook"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// readInput reads path, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied CLI path
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func runSign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	secret := fs.String("secret", "", "Webhook secret (required)")
	file := fs.String("f", "-", "Request body file, - for stdin")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pipectl sign -secret <secret> [-f body.json]\n\nPrint signature headers for a webhook body.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		fs.Usage()
		return fmt.Errorf("-secret is required")
	}
	body, err := readInput(*file)
	if err != nil {
		return err
	}
	printHeaders(os.Stdout, webhook.SignHeaders(*secret, body, time.Now()))
	return nil
}

func printHeaders(w io.Writer, headers map[string]string) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %s\n", k, headers[k])
	}
}

func runSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	server := fs.String("server", "http://localhost:8080", "contentflow server base URL")
	secret := fs.String("secret", "", "Pipeline webhook secret (required)")
	file := fs.String("f", "-", "Request body file, - for stdin")
	unsigned := fs.Bool("unsigned", false, "Send without signature headers")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pipectl send -secret <secret> [-server url] [-f body.json]\n\nTrigger a pipeline through its webhook.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		fs.Usage()
		return fmt.Errorf("-secret is required")
	}
	body, err := readInput(*file)
	if err != nil {
		return err
	}

	url := strings.TrimRight(*server, "/") + "/hooks/pipelines/" + *secret
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if !*unsigned {
		webhook.SignRequest(req, *secret, body, time.Now())
	}
	return doAndPrint(req)
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	server := fs.String("server", "http://localhost:8080", "contentflow server base URL")
	file := fs.String("f", "", "Pipeline definition file, .yaml/.yml or .json (required)")
	token := fs.String("token", os.Getenv("CONTENTFLOW_TOKEN"), "Bearer token (or set CONTENTFLOW_TOKEN)")
	dryRun := fs.Bool("dry-run", false, "Print the JSON request body instead of sending it")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pipectl create -f <pipeline.yaml> [-server url] [-token t]\n\nCreate a pipeline.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		fs.Usage()
		return fmt.Errorf("-f (definition file) is required")
	}
	raw, err := readInput(*file)
	if err != nil {
		return err
	}
	body, err := definitionJSON(raw, filepath.Ext(*file))
	if err != nil {
		return err
	}
	if *dryRun {
		fmt.Println(string(body))
		return nil
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*server, "/")+"/pipelines", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if *token != "" {
		req.Header.Set("Authorization", "Bearer "+*token)
	}
	return doAndPrint(req)
}

// definitionJSON converts a pipeline definition to the JSON request body.
// YAML is used unless ext is .json.
func definitionJSON(raw []byte, ext string) ([]byte, error) {
	if strings.EqualFold(ext, ".json") {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("definition is not valid JSON")
		}
		return raw, nil
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML definition: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("definition is empty")
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode definition: %w", err)
	}
	return body, nil
}

func doAndPrint(req *http.Request) error {
	resp, err := httpClient.Do(req) //nolint:gosec // URL from CLI flags
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		body = pretty.Bytes()
	}
	fmt.Printf("%s\n%s\n", resp.Status, body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	secret := fs.String("secret", os.Getenv("CONTENTFLOW_AUTH_JWT_SECRET"), "JWT signing secret (or set CONTENTFLOW_AUTH_JWT_SECRET)")
	subject := fs.String("sub", "pipectl", "Token subject")
	issuer := fs.String("iss", "", "Token issuer")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pipectl token -secret <secret> [-sub s] [-iss i] [-ttl 1h]\n\nMint a bearer token.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	tok, err := mintToken(*secret, *subject, *issuer, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func mintToken(secret, subject, issuer string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("-secret is required")
	}
	if subject == "" {
		return "", fmt.Errorf("-sub must not be empty")
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return tok, nil
}
