// klingstake-cli sets up and inspects a klingstaked node.
package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Klingon-tech/klingnet-staker/config"
	"github.com/Klingon-tech/klingnet-staker/internal/api"
	"github.com/Klingon-tech/klingnet-staker/internal/heartbeat"
	"github.com/Klingon-tech/klingnet-staker/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-staker/internal/status"
	"github.com/Klingon-tech/klingnet-staker/internal/wallet"
	"github.com/Klingon-tech/klingnet-staker/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// Parse global flags that appear before the subcommand.
	dataDir := config.DefaultDataDir()
	network := "mainnet"
	rpcURL := ""

	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--datadir" && len(args) > 1:
			dataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			dataDir = args[0][len("--datadir="):]
			args = args[1:]
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			network = args[0][len("--network="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if network == "testnet" {
		types.SetAddressHRP(types.TestnetHRP)
	} else {
		types.SetAddressHRP(types.MainnetHRP)
	}

	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cmd := args[0]
	if cmd == "help" || cmd == "--help" || cmd == "-h" {
		usage()
		return
	}

	cfg, err := config.LoadFromFile(dataDir, config.NetworkType(network))
	if err != nil {
		fatal("%v", err)
	}
	if rpcURL == "" {
		rpcURL = apiURL(cfg)
	}
	cmdArgs := args[1:]

	switch cmd {
	case "init":
		cmdInit(cfg, cmdArgs)
	case "status":
		cmdStatus(cfg)
	case "heartbeat":
		cmdHeartbeat(cfg)
	case "info":
		cmdInfo(rpcclient.New(rpcURL))
	case "trades":
		cmdTrades(rpcclient.New(rpcURL), cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: klingstake-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>         Node API endpoint (default: from klingstake.conf)
  --datadir <path>    Data directory (default: ~/.klingstake)
  --network <net>     mainnet (default) or testnet

Commands:
  init --cold-wallet <addr> [--mnemonic "..."] [--no-token]
                                  Create the staking settings record
  status                          Show the worker's last scanned block
  heartbeat                       Show the last heartbeat outcome
  info                            Show node and heartbeat details
  trades [--block <n>]            Show the latest (or a given block's) trades
`)
}

func apiURL(cfg *config.Config) string {
	scheme := "http"
	if cfg.API.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/", scheme, net.JoinHostPort(cfg.API.Addr, strconv.Itoa(cfg.API.Port)))
}

// ── init ────────────────────────────────────────────────────────────────

func cmdInit(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	cold := fs.String("cold-wallet", "", "Cold wallet address receiving rewards (empty = no staking)")
	mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic to import (default: generate)")
	noToken := fs.Bool("no-token", false, "Do not store the passphrase; supply it via "+wallet.TokenEnv)
	force := fs.Bool("force", false, "Overwrite an existing settings record")
	fs.Parse(args)

	path := cfg.SettingsFile()
	if _, err := wallet.ReadSettings(path); err == nil && !*force {
		fatal("settings already exist at %s (use --force to overwrite)", path)
	}

	words := strings.TrimSpace(*mnemonic)
	if words == "" {
		var err error
		words, err = wallet.GenerateMnemonic()
		if err != nil {
			fatal("generate mnemonic: %v", err)
		}
		fmt.Println("Mnemonic (write this down!):")
		fmt.Printf("  %s\n\n", words)
	} else if !wallet.ValidateMnemonic(words) {
		fatal("invalid mnemonic")
	}

	password, err := readPassword("Enter passphrase: ")
	if err != nil {
		fatal("read passphrase: %v", err)
	}
	confirm, err := readPassword("Confirm passphrase: ")
	if err != nil {
		fatal("read passphrase: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passphrases do not match")
	}

	seed, err := wallet.SeedFromMnemonic(words, "")
	if err != nil {
		fatal("derive seed: %v", err)
	}
	key, err := wallet.StakingKey(seed)
	if err != nil {
		fatal("derive staking key: %v", err)
	}
	pub := key.PublicKey()
	key.Zero()

	s, err := wallet.CreateSettings(path, *cold, seed, password, wallet.DefaultParams())
	for i := range seed {
		seed[i] = 0
	}
	if err != nil {
		fatal("create settings: %v", err)
	}
	if *noToken {
		s.Token = ""
		if err := wallet.WriteSettings(path, s); err != nil {
			fatal("write settings: %v", err)
		}
	}

	fmt.Printf("\nSettings written: %s\n", path)
	fmt.Printf("Hot key:     %s\n", hex.EncodeToString(pub))
	if *cold != "" {
		fmt.Printf("Cold wallet: %s\n", *cold)
	} else {
		fmt.Println("Cold wallet: none (staking disabled)")
	}
	if *noToken {
		fmt.Printf("Start klingstaked with %s set to the passphrase.\n", wallet.TokenEnv)
	}
}

// ── status ──────────────────────────────────────────────────────────────

func cmdStatus(cfg *config.Config) {
	if cfg.Status.Port <= 0 {
		fatal("status listener disabled (set status.port in %s)", cfg.ConfigFile())
	}
	url := fmt.Sprintf("http://%s/status", net.JoinHostPort(cfg.Status.Addr, strconv.Itoa(cfg.Status.Port)))

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fatal("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		fatal("status: %s", resp.Status)
	}

	var st status.Response
	if err := json.Unmarshal(body, &st); err != nil {
		fatal("decode status: %v", err)
	}
	fmt.Printf("Last scanned block: %d\n", st.LastScannedBlock)
}

// ── heartbeat ───────────────────────────────────────────────────────────

func cmdHeartbeat(cfg *config.Config) {
	out, err := heartbeat.ReadStatusFile(cfg.HeartbeatFile())
	if errors.Is(err, os.ErrNotExist) {
		fatal("no heartbeat recorded (is klingstaked running?)")
	}
	if err != nil {
		fatal("%v", err)
	}

	state := "offline"
	if out.Online {
		state = "online"
	}
	fmt.Printf("State:   %s\n", state)
	fmt.Printf("Time:    %s\n", time.UnixMilli(out.Timestamp).Format(time.RFC3339))
	fmt.Printf("Block:   %d\n", out.Block)
	if out.Status != 0 {
		fmt.Printf("Status:  %d\n", out.Status)
	}
	if out.Message != "" {
		fmt.Printf("Message: %s\n", out.Message)
	}
}

// ── info ────────────────────────────────────────────────────────────────

func cmdInfo(client *rpcclient.Client) {
	var info api.NodeInfo
	if err := client.Call("node_getInfo", nil, &info); err != nil {
		fatal("node_getInfo: %v", err)
	}
	var hb api.HeartbeatResult
	if err := client.Call("node_getHeartbeat", nil, &hb); err != nil {
		fatal("node_getHeartbeat: %v", err)
	}

	fmt.Printf("Version:   %s\n", info.Version)
	fmt.Printf("Network:   %s\n", info.Network)
	fmt.Printf("Phase:     %s\n", info.Phase)
	fmt.Printf("Chain:     %s %s\n", info.ChainID, info.ChainEndpoint)
	fmt.Printf("Block:     %d\n", info.CurrentBlock)
	if info.Staking {
		fmt.Printf("Staking:   yes (%s)\n", info.ColdWallet)
	} else {
		fmt.Println("Staking:   no")
	}

	if !hb.Running {
		fmt.Println("Heartbeat: not running")
		return
	}
	state := "offline"
	if hb.Online {
		state = "online"
	}
	fmt.Printf("Heartbeat: %s after %d ticks, stale %.0fs\n", state, hb.Ticks, hb.StaleSeconds)
	if hb.LastMessage != "" {
		fmt.Printf("Message:   %s\n", hb.LastMessage)
	}
}

// ── trades ──────────────────────────────────────────────────────────────

func cmdTrades(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("trades", flag.ExitOnError)
	block := fs.Int64("block", -1, "Block height (default: latest block with trades)")
	fs.Parse(args)

	var res api.LatestTradesResult
	var err error
	if *block < 0 {
		err = client.Call("trade_getLatest", nil, &res)
	} else {
		err = client.Call("trade_getByBlock", api.BlockParam{Block: uint64(*block)}, &res)
	}
	if err != nil {
		fatal("%v", err)
	}

	fmt.Printf("Block %d: %d trade(s)\n", res.Block, len(res.Trades))
	for _, t := range res.Trades {
		fmt.Printf("  #%d  %s  %d\n", t.Index, t.TxHash, t.Value)
	}
}

// ── Password helper ─────────────────────────────────────────────────────

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
