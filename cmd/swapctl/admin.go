package main

import (
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"nftswap/services/exchanged/middleware"
)

var tokenNow = time.Now

// adminToken mints an HS256 operator token accepted by the exchanged admin
// routes. The secret is read from the environment only.
func (c *cli) adminToken(args []string) int {
	fs := c.flagSet("admin-token")
	secretEnv := fs.String("secret-env", "NFTSWAP_ADMIN_SECRET", "environment variable holding the HMAC secret")
	issuer := fs.String("issuer", "nftswap", "token issuer")
	audience := fs.String("audience", "nftswap-admin", "token audience")
	subject := fs.String("subject", "", "operator name recorded in audit logs")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	secret := strings.TrimSpace(os.Getenv(*secretEnv))
	if secret == "" {
		return printError(c.stderr, fmt.Sprintf("%s is not set", *secretEnv))
	}
	if *subject == "" {
		return printError(c.stderr, "--subject is required")
	}
	if *ttl <= 0 {
		return printError(c.stderr, "--ttl must be positive")
	}
	now := tokenNow()
	claims := jwt.MapClaims{
		"iss":   *issuer,
		"aud":   *audience,
		"sub":   *subject,
		"iat":   now.Unix(),
		"exp":   now.Add(*ttl).Unix(),
		"scope": middleware.ScopeAdmin,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, signed)
	return 0
}

func (c *cli) admin(args []string) int {
	if len(args) == 0 {
		return printError(c.stderr, "admin requires a subcommand")
	}
	if c.client.token == "" {
		return printError(c.stderr, "admin commands need --token or SWAPCTL_ADMIN_TOKEN")
	}
	fs := c.flagSet("admin " + args[0])
	var (
		method = http.MethodPost
		path   string
		body   interface{}
	)
	switch args[0] {
	case "trading":
		open := fs.Bool("open", true, "open or close trading")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		path, body = "/admin/trading", map[string]bool{"open": *open}
	case "blacklist":
		collection := fs.String("collection", "", "collection address")
		blacklisted := fs.Bool("blacklisted", true, "add or remove the entry")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		addr, err := parseAddress(*collection)
		if err != nil {
			return c.fail(err)
		}
		path, body = "/admin/blacklist", map[string]interface{}{"collection": addr, "blacklisted": *blacklisted}
	case "token":
		token := fs.String("token", "", "payment token address")
		allowed := fs.Bool("allowed", true, "allow or disallow the token")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		addr, err := parseAddress(*token)
		if err != nil {
			return c.fail(err)
		}
		path, body = "/admin/tokens", map[string]interface{}{"token": addr, "allowed": *allowed}
	case "partner":
		collection := fs.String("collection", "", "partner collection address")
		recipient := fs.String("recipient", "", "fee recipient address")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		coll, err := parseAddress(*collection)
		if err != nil {
			return c.fail(err)
		}
		rcpt, err := parseAddress(*recipient)
		if err != nil {
			return c.fail(err)
		}
		path, body = "/admin/partners", map[string]interface{}{"collection": coll, "recipient": rcpt}
	case "remove-partner":
		collection := fs.String("collection", "", "partner collection address")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		coll, err := parseAddress(*collection)
		if err != nil {
			return c.fail(err)
		}
		method, path = http.MethodDelete, "/admin/partners/"+url.PathEscape(coll.Hex())
	case "mint":
		kind := fs.String("kind", "", "native, token, erc721 or erc1155")
		to := fs.String("to", "", "recipient address")
		token := fs.String("token", "", "fungible token address")
		collection := fs.String("collection", "", "collection address")
		tokenID := fs.String("token-id", "", "token id for erc721 and erc1155")
		amount := fs.String("amount", "", "amount for native, token and erc1155")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		req := map[string]interface{}{"kind": *kind}
		recipient, err := parseAddress(*to)
		if err != nil {
			return c.fail(err)
		}
		req["to"] = recipient
		if *token != "" {
			if req["token"], err = parseAddress(*token); err != nil {
				return c.fail(err)
			}
		}
		if *collection != "" {
			if req["collection"], err = parseAddress(*collection); err != nil {
				return c.fail(err)
			}
		}
		for name, raw := range map[string]string{"tokenId": *tokenID, "amount": *amount} {
			if raw == "" {
				continue
			}
			v, ok := new(big.Int).SetString(raw, 10)
			if !ok {
				return printError(c.stderr, fmt.Sprintf("invalid %s %q", name, raw))
			}
			req[name] = v
		}
		path, body = "/admin/mint", req
	default:
		return printError(c.stderr, fmt.Sprintf("unknown admin subcommand %q", args[0]))
	}

	ctx, cancel := c.ctx()
	defer cancel()
	raw, err := c.client.do(ctx, method, path, body)
	if err != nil {
		return c.fail(err)
	}
	return c.print(raw)
}
