package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "llmgateway-cli"
	app.Usage = "interact with a running LLM gateway"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "host",
			Usage: "host for the gateway",
			Value: "localhost",
		},
		cli.StringFlag{
			Name:  "http",
			Usage: "gateway http port",
			Value: "8080",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "status",
			Usage: "show worker health and pending usage",
			Action: func(c *cli.Context) error {
				return newGatewayClient(c, os.Stdout).status()
			},
		},
		{
			Name:      "operator",
			Usage:     "show the ledger record of an operator",
			ArgsUsage: "<address>",
			Action: func(c *cli.Context) error {
				return newGatewayClient(c, os.Stdout).operator(c.Args().First())
			},
		},
		{
			Name:      "epoch",
			Usage:     "show the current epoch stats of an operator",
			ArgsUsage: "<address>",
			Action: func(c *cli.Context) error {
				return newGatewayClient(c, os.Stdout).epoch(c.Args().First())
			},
		},
		{
			Name:      "chat",
			Usage:     "send a single prompt and stream the reply",
			ArgsUsage: "<prompt>",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "model",
					Usage: "model to run the prompt on",
				},
			},
			Action: func(c *cli.Context) error {
				return newGatewayClient(c, os.Stdout).chat(c.String("model"), c.Args().First())
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
