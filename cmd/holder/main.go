package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/op/go-logging"
	"github.com/urfave/cli"

	mdoc "github.com/kryptco/mdoc"
)

func engageCommand(c *cli.Context) (err error) {
	mdoc.SetupLogging(logging.NOTICE)

	mdocPath := c.String("mdoc")
	if mdocPath == "" {
		return cli.NewExitError("holder engage: --mdoc is required", 1)
	}
	mdocBytes, err := ioutil.ReadFile(mdocPath)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("reading mdoc file: %s", err), 1)
	}

	cfg := mdoc.DefaultConfig()
	method := mdoc.EngagementQR
	if c.String("carrier") == "nfc" {
		method = mdoc.EngagementNFC
	}
	cfg.PresentationMode = mdoc.DefaultModeFor(method)
	if err := mdoc.ValidateMode(method, cfg.PresentationMode); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	session, err := mdoc.NewPresentationSession(mdocBytes, randomDeviceKey(), cfg.PresentationMode)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("starting session: %s", err), 1)
	}

	obs := demoObserver{}
	facade := mdoc.NewHolderFacade(cfg, session, obs)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := facade.Start(ctx); err != nil {
		return cli.NewExitError(fmt.Sprintf("starting transport: %s", err), 1)
	}

	<-ctx.Done()
	facade.Terminate()
	return nil
}

// randomDeviceKey is a placeholder for the real key-material collaborator
// (spec §1 Non-goals: key generation is out of scope for this core).
func randomDeviceKey() []byte {
	b := make([]byte, 32)
	return b
}

type demoObserver struct{}

func (demoObserver) EngagingQR(uri []byte) {
	fmt.Fprintf(os.Stdout, "engaging: %s\n", string(uri))
}
func (demoObserver) Connected() { fmt.Fprintln(os.Stdout, "connected") }
func (demoObserver) SelectNamespaces(requests []mdoc.ItemsRequest) {
	for _, r := range requests {
		fmt.Fprintf(os.Stdout, "reader requests %s: %v\n", r.DocType, r.Namespaces)
	}
}
func (demoObserver) UploadProgress(sent, total int) {
	fmt.Fprintf(os.Stdout, "upload progress %d/%d\n", sent, total)
}
func (demoObserver) Success(response []byte) {
	fmt.Fprintf(os.Stdout, "success: %d bytes delivered\n", len(response))
}
func (demoObserver) Error(message string) {
	fmt.Fprintf(os.Stderr, "error: %s\n", message)
}

func main() {
	app := cli.NewApp()
	app.Name = "mdoc-holder"
	app.Usage = "drive the holder side of an mdoc proximity presentation"
	app.Commands = []cli.Command{
		{
			Name:  "engage",
			Usage: "parse an mdoc fixture, engage a reader, and serve one presentation",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "mdoc", Usage: "path to the mdoc CBOR fixture"},
				cli.StringFlag{Name: "carrier", Value: "qr", Usage: "qr or nfc"},
			},
			Action: engageCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
