/*
Gateway proxies LLM chat requests to worker operators registered on the ledger and commits their usage back to it.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/livepeer/go-llm-gateway/cmd/llmgateway/starter"
	"github.com/livepeer/go-llm-gateway/core"
)

func main() {
	// Override the default flag set since there are dependencies that
	// incorrectly add their own flags
	flag.Set("logtostderr", "true")
	vFlag := flag.Lookup("v")
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	version := flag.Bool("version", false, "Print out the version")
	verbosity := flag.String("v", "3", "Log verbosity.  {4|5|6}")

	cfg, err := starter.ParseGatewayConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		glog.Exitf("Error parsing config: %v", err)
	}
	vFlag.Value.Set(*verbosity)

	if *version {
		fmt.Println("LLM Gateway Version: " + core.GatewayVersion)
		return
	}

	glog.Infof("***LLM Gateway is in beta***")
	glog.Infof("LLM Gateway version: %v", core.GatewayVersion)
	cfg.PrintConfig(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := starter.StartGateway(ctx, cfg); err != nil {
		glog.Errorf("Gateway exited with error: %v", err)
		glog.Flush()
		os.Exit(1)
	}
	glog.Infof("Gateway stopped")
	glog.Flush()
}
