// Command peermarketctl is a signing client for the peermarket API.
//
//	peermarketctl address
//	peermarketctl action <name> '<json body>'
//	peermarketctl query <path>
//	peermarketctl encrypt-key -out key.json
//
// The signing key comes from [client] in the config file or from
// PEERMARKET_CLIENT_PRIVATE_KEY / PEERMARKET_CLIENT_ENCRYPTED_KEY_PATH.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/peermarket/internal/config"
	"github.com/alanyoungcy/peermarket/internal/crypto"
)

const usage = `usage: peermarketctl [-config file] <command> [args]

commands:
  address                 print the signing address
  action <name> [json]    sign and POST /api/actions/<name>
  query <path>            GET an API path, e.g. /api/markets
  encrypt-key -out file   encrypt PEERMARKET_CLIENT_PRIVATE_KEY with PEERMARKET_CLIENT_KEY_PASSWORD`

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	if err := run(*configPath, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "peermarketctl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, args []string) error {
	if len(args) == 0 {
		flag.Usage()
		return errors.New("missing command")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "address":
		signer, err := loadSigner(cfg.Client)
		if err != nil {
			return err
		}
		fmt.Println(signer.Address().Hex())
		return nil

	case "action":
		if len(args) < 2 {
			return errors.New("action: name required")
		}
		body := "{}"
		if len(args) > 2 {
			body = args[2]
		}
		if !json.Valid([]byte(body)) {
			return errors.New("action: body is not valid JSON")
		}
		signer, err := loadSigner(cfg.Client)
		if err != nil {
			return err
		}
		return send(ctx, cfg.Client.BaseURL, http.MethodPost, "/api/actions/"+args[1], []byte(body), signer)

	case "query":
		if len(args) < 2 {
			return errors.New("query: path required")
		}
		return send(ctx, cfg.Client.BaseURL, http.MethodGet, args[1], nil, nil)

	case "encrypt-key":
		fs := flag.NewFlagSet("encrypt-key", flag.ContinueOnError)
		out := fs.String("out", "peermarket-key.json", "output file")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if cfg.Client.PrivateKey == "" || cfg.Client.KeyPassword == "" {
			return errors.New("encrypt-key: private key and key password are required")
		}
		data, err := crypto.EncryptKey(cfg.Client.PrivateKey, cfg.Client.KeyPassword)
		if err != nil {
			return err
		}
		if err := os.WriteFile(*out, data, 0o600); err != nil {
			return fmt.Errorf("encrypt-key: %w", err)
		}
		fmt.Println("wrote", *out)
		return nil

	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func loadSigner(c config.ClientConfig) (*crypto.Signer, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    c.PrivateKey,
		EncryptedKeyPath: c.EncryptedKeyPath,
		KeyPassword:      c.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}
	return crypto.NewSigner(key)
}

// send issues one request, signing it when signer is set, and prints the
// response body.
func send(ctx context.Context, baseURL, method, path string, body []byte, signer *crypto.Signer) error {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(baseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signer != nil {
		ts := time.Now().Unix()
		// The server verifies against the path without the query string.
		signedPath := req.URL.Path
		sig, err := signer.SignRequest(method, signedPath, ts, body)
		if err != nil {
			return err
		}
		req.Header.Set(crypto.HeaderAddress, signer.Address().Hex())
		req.Header.Set(crypto.HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(crypto.HeaderSignature, sig)
	}

	resp, err := (&http.Client{Timeout: 20 * time.Second}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		raw = pretty.Bytes()
	}
	fmt.Println(string(raw))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}
