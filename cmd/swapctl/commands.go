package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"nftswap/cmd/internal/passphrase"
	"nftswap/core/types"
	swapcrypto "nftswap/crypto"
	"nftswap/services/exchanged/server"
)

var (
	requestTimeout = 20 * time.Second
	newPassSource  = func(env string) passphraseSource { return passphrase.NewSource(env, "trader keystore") }
)

type passphraseSource interface {
	Get() (string, error)
}

type cli struct {
	client *client
	stdout io.Writer
	stderr io.Writer
}

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) fail(err error) int {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(c.stderr, "Request failed: %v\n", apiErr)
		return 2
	}
	return printError(c.stderr, err.Error())
}

func (c *cli) print(raw json.RawMessage) int {
	if len(raw) == 0 {
		fmt.Fprintln(c.stdout, "ok")
		return 0
	}
	var pretty interface{}
	if err := json.Unmarshal(raw, &pretty); err != nil {
		fmt.Fprintln(c.stdout, strings.TrimSpace(string(raw)))
		return 0
	}
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(pretty); err != nil {
		return c.fail(err)
	}
	return 0
}

func (c *cli) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

func (c *cli) generateKey(args []string) int {
	fs := c.flagSet("generate-key")
	path := fs.String("keystore", "", "output keystore path")
	passEnv := fs.String("pass-env", defaultPassEnv, "environment variable holding the passphrase")
	force := fs.Bool("force", false, "overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *path == "" {
		return printError(c.stderr, "--keystore is required")
	}
	if _, err := os.Stat(*path); err == nil && !*force {
		return printError(c.stderr, fmt.Sprintf("%s already exists; pass --force to overwrite", *path))
	}
	pass, err := newPassSource(*passEnv).Get()
	if err != nil {
		return c.fail(err)
	}
	key, err := swapcrypto.GeneratePrivateKey()
	if err != nil {
		return c.fail(err)
	}
	if err := swapcrypto.SaveToKeystore(*path, key, pass); err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, key.Address().Hex())
	return 0
}

func (c *cli) address(args []string) int {
	fs := c.flagSet("address")
	path := fs.String("keystore", "", "keystore path")
	passEnv := fs.String("pass-env", defaultPassEnv, "environment variable holding the passphrase")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := c.loadKey(*path, *passEnv)
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, key.Address().Hex())
	return 0
}

func (c *cli) loadKey(path, passEnv string) (*swapcrypto.PrivateKey, error) {
	if path == "" {
		return nil, errors.New("--keystore is required")
	}
	pass, err := newPassSource(passEnv).Get()
	if err != nil {
		return nil, err
	}
	return swapcrypto.LoadFromKeystore(path, pass)
}

func (c *cli) hashOffer(args []string) int {
	fs := c.flagSet("hash-offer")
	path := fs.String("offer", "", "offer JSON file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	offer, err := readOffer(*path)
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.ctx()
	defer cancel()
	raw, err := c.client.do(ctx, http.MethodPost, "/v1/offers/hash", server.OfferPayload{Offer: offer})
	if err != nil {
		return c.fail(err)
	}
	return c.print(raw)
}

func (c *cli) match(args []string) int {
	fs := c.flagSet("match")
	makerPath := fs.String("maker", "", "maker offer JSON file")
	takerPath := fs.String("taker", "", "taker offer JSON file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	maker, err := readOffer(*makerPath)
	if err != nil {
		return c.fail(err)
	}
	taker, err := readOffer(*takerPath)
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.ctx()
	defer cancel()
	raw, err := c.client.do(ctx, http.MethodPost, "/v1/offers/match", server.PairPayload{Maker: maker, Taker: taker})
	if err != nil {
		return c.fail(err)
	}
	return c.print(raw)
}

func (c *cli) get(path string) int {
	ctx, cancel := c.ctx()
	defer cancel()
	raw, err := c.client.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return c.fail(err)
	}
	return c.print(raw)
}

func (c *cli) getByID(args []string, pattern string) int {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return printError(c.stderr, "exactly one argument required")
	}
	return c.get(fmt.Sprintf(pattern, url.PathEscape(strings.TrimSpace(args[0]))))
}

func (c *cli) activity(args []string) int {
	fs := c.flagSet("activity")
	trader := fs.String("trader", "", "filter by trader address")
	hash := fs.String("hash", "", "filter by offer hash")
	kind := fs.String("type", "", "filter by event type")
	limit := fs.Int("limit", 0, "maximum number of rows")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	q := url.Values{}
	if *trader != "" {
		q.Set("trader", *trader)
	}
	if *hash != "" {
		q.Set("hash", *hash)
	}
	if *kind != "" {
		q.Set("type", *kind)
	}
	if *limit > 0 {
		q.Set("limit", strconv.Itoa(*limit))
	}
	path := "/v1/activity"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return c.get(path)
}

func readOffer(path string) (*types.Offer, error) {
	if path == "" {
		return nil, errors.New("offer file required")
	}
	var offer types.Offer
	if err := readJSONFile(path, &offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

func readJSONFile(path string, out interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}
