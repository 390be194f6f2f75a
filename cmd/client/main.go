package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/atinyakov/firewatch/internal/certgen"
	"github.com/atinyakov/firewatch/internal/client"
	"github.com/atinyakov/firewatch/internal/models"
)

var (
	version   string
	buildDate string
)

// repl runs the interactive shell loop, accepting commands to manage
// the session and collection subscriptions.
func repl(ctx context.Context, c *client.Client, refresh time.Duration) {
	c.StartAutoRefresh(ctx, refresh, func(err error) {
		fmt.Println("refresh error:", err)
	})

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("firewatch> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "help":
			fmt.Println("Available commands: help, signin <token>, signout, whoami, subscribe <a,b>, get <name>, list, history <name>, dispose <name>, watch <name>, exit")
		case "signin":
			if len(args) < 2 {
				fmt.Println("Usage: signin <id-token>")
				continue
			}
			s, err := c.SignIn(ctx, args[1])
			report(s, err)
		case "signout":
			s, err := c.SignOut(ctx)
			report(s, err)
		case "whoami":
			s, err := c.Session(ctx)
			report(s, err)
		case "subscribe":
			if len(args) < 2 {
				fmt.Println("Usage: subscribe <name>[,<name>...]")
				continue
			}
			states, err := c.Subscribe(ctx, strings.Split(args[1], ","))
			report(states, err)
		case "get":
			if len(args) < 2 {
				fmt.Println("Usage: get <name>")
				continue
			}
			st, err := c.Get(ctx, args[1])
			if err != nil {
				if cached, ok := c.Cached(args[1]); ok {
					fmt.Println("server unreachable, showing cached state")
					report(cached, nil)
					continue
				}
			}
			report(st, err)
		case "list":
			states, err := c.List(ctx)
			report(states, err)
		case "history":
			if len(args) < 2 {
				fmt.Println("Usage: history <name>")
				continue
			}
			entries, err := c.History(ctx, args[1], 0)
			report(entries, err)
		case "dispose":
			if len(args) < 2 {
				fmt.Println("Usage: dispose <name>")
				continue
			}
			if err := c.Dispose(ctx, args[1], false); err != nil {
				fmt.Println("Error:", err)
			} else {
				fmt.Println("Subscription disposed")
			}
		case "watch":
			if len(args) < 2 {
				fmt.Println("Usage: watch <name>")
				continue
			}
			watch(ctx, c, args[1])
		case "exit":
			fmt.Println("Bye")
			return
		default:
			fmt.Println("Unknown command. Type 'help' for a list of commands.")
		}
	}
}

// watch prints state changes of name until Ctrl-C.
func watch(ctx context.Context, c *client.Client, name string) {
	wctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	states, err := c.Watch(wctx, name, func(err error) { fmt.Println("Watch error:", err) })
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println("Watching", name, "(Ctrl-C to stop)")
	for st := range states {
		line := fmt.Sprintf("[%s] phase=%s loading=%v documents=%d", st.Name, st.Phase, st.Loading, len(st.Data))
		if st.Error != nil {
			line += fmt.Sprintf(" error=%s: %s", st.Error.Kind, st.Error.Message)
		}
		fmt.Println(line)
	}
}

func report(v any, err error) {
	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr):
		fmt.Printf("Error (%d): %s\n", apiErr.Status, apiErr.Message)
		return
	case err != nil:
		fmt.Println("Error:", err)
		return
	}
	if s, ok := v.(models.Session); ok && !s.SignedIn {
		fmt.Println("Signed out")
		return
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

// main parses command-line flags and starts the shell.
func main() {
	var (
		baseURL string
		token   string
		caFile  string
		refresh time.Duration
		showVer bool
	)

	flag.StringVar(&baseURL, "url", "http://localhost:8080", "server base URL")
	flag.StringVar(&token, "token", "", "ID token to sign in with on start")
	flag.StringVar(&caFile, "ca", "", "path to CA cert trusted for HTTPS")
	flag.DurationVar(&refresh, "refresh", 10*time.Second, "cache refresh interval")
	flag.BoolVar(&showVer, "version", false, "show build version and date")
	flag.Parse()

	if showVer {
		fmt.Printf("firewatch client\nVersion: %s\nBuild Date: %s\n", version, buildDate)
		return
	}
	if refresh <= 0 {
		log.Fatal("refresh interval must be positive")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpClient := &http.Client{}
	if caFile != "" {
		tlsConfig, err := certgen.TLSConfigFromCA(caFile)
		if err != nil {
			log.Fatal(err)
		}
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	c := client.New(baseURL, httpClient)
	if token != "" {
		if _, err := c.SignIn(ctx, token); err != nil {
			log.Fatal(err)
		}
	}
	repl(ctx, c, refresh)
}
