package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/web-ai-community/cross-origin-storage/core/infra/bus"
	"github.com/web-ai-community/cross-origin-storage/core/infra/config"
	"github.com/web-ai-community/cross-origin-storage/core/infra/handles"
	"github.com/web-ai-community/cross-origin-storage/core/protocol/cossdk"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "list":
		runList(args)
	case "metadata":
		runMetadata(args)
	case "fetch":
		runFetch(args)
	case "store":
		runStore(args)
	case "delete":
		runDelete(args)
	case "delete-all":
		runDeleteAll(args)
	case "permission":
		runPermission(args)
	case "respond-prompts":
		runRespondPrompts(args)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: cosctl <command> [args]

commands:
  list                               list indexed origins and hashes
  metadata <algorithm> <value>       show size and mime type of a blob
  fetch <algorithm> <value> [-o f]   fetch blob bytes
  store <algorithm> <value> -file f  store a blob
  delete <algorithm> <value>         delete a blob and its index entries
  delete-all -yes                    delete every blob
  permission get <origin>            show the stored decision for an origin
  permission set <origin> <decision> store a decision (allow-session | never-allow | clear)
  respond-prompts -decision <d>      answer permission prompts headlessly`)
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, "error:", msg)
	os.Exit(1)
}

func check(err error) {
	if err != nil {
		fail(err.Error())
	}
}

func newBus() *bus.NatsBus {
	cfg := config.Load()
	b, err := bus.NewNatsBus(cfg.NatsURL)
	check(err)
	return b
}

// call sends one envelope to the broker and decodes the reply.
func call(b *bus.NatsBus, action string, payload, out any) {
	env, err := cossdk.NewEnvelope(action, payload)
	check(err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resp, err := b.Request(ctx, cossdk.SubjectBrokerCall, env)
	check(err)
	if resp.Error != nil {
		fail(resp.Error.Error())
	}
	if out != nil {
		check(resp.Decode(out))
	}
}

func hashArg(args []string) cossdk.Hash {
	if len(args) < 2 {
		fail("algorithm and value required")
	}
	h := cossdk.Hash{Algorithm: args[0], Value: args[1]}
	if !h.Valid() {
		fail("algorithm and value must be non-empty")
	}
	return h
}

func runList(args []string) {
	b := newBus()
	defer b.Close()
	var resp cossdk.ListResourcesResponse
	call(b, cossdk.ActionListResources, nil, &resp)
	fmt.Println("origins:")
	for _, o := range resp.Origins {
		fmt.Println("  " + o)
	}
	fmt.Println("hashes:")
	for _, h := range resp.Hashes {
		fmt.Println("  " + h)
	}
}

func runMetadata(args []string) {
	hash := hashArg(args)
	b := newBus()
	defer b.Close()
	var resp cossdk.GetResourceMetadataResponse
	call(b, cossdk.ActionGetResourceMetadata, cossdk.GetResourceMetadataRequest{Hash: hash}, &resp)
	if resp.Size == nil {
		fmt.Println("not stored")
		return
	}
	fmt.Printf("size: %d\n", *resp.Size)
	if resp.MimeType != nil {
		fmt.Printf("mime: %s\n", *resp.MimeType)
	}
}

// runFetch asks the broker for the blob and dereferences the returned
// handle directly, the same consumption the relay would do.
func runFetch(args []string) {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	out := fs.String("o", "", "output file (default stdout)")
	fs.Parse(argsAfterHash(args))
	hash := hashArg(args)

	b := newBus()
	defer b.Close()
	var resp cossdk.GetFileDataResponse
	call(b, cossdk.ActionGetFileData, cossdk.GetFileDataRequest{Hash: hash}, &resp)
	if resp.PayloadHandle == "" && len(resp.Data) == 0 {
		fail("not stored")
	}

	data := resp.Data
	if resp.PayloadHandle != "" {
		cfg := config.Load()
		store, err := handles.NewRedisStore(cfg.RedisURL, cfg.HandleTTL)
		check(err)
		defer store.Close()
		data, _, err = store.Take(context.Background(), resp.PayloadHandle)
		check(err)
	}
	if *out == "" {
		os.Stdout.Write(data)
		return
	}
	check(os.WriteFile(*out, data, 0o644))
	fmt.Printf("wrote %d bytes to %s\n", len(data), *out)
}

func runStore(args []string) {
	fs := flag.NewFlagSet("store", flag.ExitOnError)
	file := fs.String("file", "", "file to store")
	mime := fs.String("mime", "", "mime type")
	fs.Parse(argsAfterHash(args))
	hash := hashArg(args)
	if *file == "" {
		fail("-file required")
	}
	data, err := os.ReadFile(*file)
	check(err)

	b := newBus()
	defer b.Close()
	var resp cossdk.StoreFileDataResponse
	call(b, cossdk.ActionStoreFileData, cossdk.StoreFileDataRequest{
		Hash:     hash,
		Data:     data,
		MimeType: *mime,
	}, &resp)
	fmt.Printf("stored %s (%d bytes)\n", resp.Hash.Key(), len(data))
}

func runDelete(args []string) {
	hash := hashArg(args)
	b := newBus()
	defer b.Close()
	var resp cossdk.DeleteResourceResponse
	call(b, cossdk.ActionDeleteResource, cossdk.DeleteResourceRequest{Hash: hash}, &resp)
	fmt.Println("deleted", hash.Key())
}

func runDeleteAll(args []string) {
	fs := flag.NewFlagSet("delete-all", flag.ExitOnError)
	yes := fs.Bool("yes", false, "confirm deletion of every blob")
	fs.Parse(args)
	if !*yes {
		fail("refusing to delete everything without -yes")
	}
	b := newBus()
	defer b.Close()
	var resp cossdk.DeleteAllResourcesResponse
	call(b, cossdk.ActionDeleteAllResources, nil, &resp)
	fmt.Println("all resources deleted")
}

func runPermission(args []string) {
	if len(args) < 2 {
		usage()
		os.Exit(1)
	}
	b := newBus()
	defer b.Close()
	switch args[0] {
	case "get":
		var resp cossdk.GetPermissionResponse
		call(b, cossdk.ActionGetPermission, cossdk.GetPermissionRequest{Origin: args[1]}, &resp)
		if resp.Permission == cossdk.DecisionUnset {
			fmt.Println("unset")
			return
		}
		fmt.Println(string(resp.Permission))
	case "set":
		if len(args) < 3 {
			fail("origin and decision required")
		}
		decision := cossdk.Decision(args[2])
		if args[2] == "clear" {
			decision = cossdk.DecisionUnset
		} else if !decision.Durable() {
			fail("decision must be allow-session, never-allow or clear")
		}
		var resp cossdk.StorePermissionResponse
		call(b, cossdk.ActionStorePermission, cossdk.StorePermissionRequest{
			Origin:     args[1],
			Permission: decision,
		}, &resp)
		fmt.Println("stored")
	default:
		usage()
		os.Exit(1)
	}
}

// runRespondPrompts subscribes on the prompt subject and answers every
// prompt with a fixed decision until interrupted. Useful for headless
// setups with no prompt UI attached.
func runRespondPrompts(args []string) {
	fs := flag.NewFlagSet("respond-prompts", flag.ExitOnError)
	decision := fs.String("decision", string(cossdk.DecisionAllowOnce), "decision for every prompt")
	fs.Parse(args)
	d := cossdk.Decision(*decision)
	if !d.Terminal() {
		fail("decision must be allow-once, allow-session or never-allow")
	}

	b := newBus()
	defer b.Close()
	err := b.Subscribe(cossdk.SubjectPermissionPrompt, "", func(env *cossdk.Envelope) *cossdk.Envelope {
		var req cossdk.PromptPermissionRequest
		if err := env.Decode(&req); err != nil {
			return nil
		}
		fmt.Printf("prompt from %s (%d hashes): answering %s\n", req.Origin, len(req.Hashes), d)
		resp, err := cossdk.NewEnvelope(cossdk.ActionPromptPermission, cossdk.PromptPermissionResponse{Permission: d})
		if err != nil {
			return nil
		}
		return resp
	})
	check(err)

	fmt.Println("answering prompts, ctrl-c to stop")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

// argsAfterHash returns the flag arguments following the two positional
// hash components.
func argsAfterHash(args []string) []string {
	if len(args) <= 2 {
		return nil
	}
	return args[2:]
}
