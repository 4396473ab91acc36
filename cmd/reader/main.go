package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/op/go-logging"
	"github.com/urfave/cli"

	mdoc "github.com/kryptco/mdoc"
)

// buildRequest encodes the minimal ItemsRequest this demo reader always
// sends: spec §8 scenario 1's fixture request.
func buildRequest(docType string, elements []string) ([]byte, error) {
	wire := struct {
		DocRequests []struct {
			ItemsRequest struct {
				DocType    string                     `cbor:"docType"`
				NameSpaces map[string]map[string]bool `cbor:"nameSpaces"`
			} `cbor:"itemsRequest"`
		} `cbor:"docRequests"`
	}{}
	ns := map[string]bool{}
	for _, e := range elements {
		ns[e] = false
	}
	entry := struct {
		ItemsRequest struct {
			DocType    string                     `cbor:"docType"`
			NameSpaces map[string]map[string]bool `cbor:"nameSpaces"`
		} `cbor:"itemsRequest"`
	}{}
	entry.ItemsRequest.DocType = docType
	entry.ItemsRequest.NameSpaces = map[string]map[string]bool{"org.iso.18013.5.1": ns}
	wire.DocRequests = append(wire.DocRequests, entry)
	return cbor.Marshal(wire)
}

// requestCommand exercises the ordinary flow: scan a holder's QR
// engagement, then stand up a ReaderSession/TransportFacade that connects as
// a central to the holder's advertised peripheral. A holder that advertises
// only a central role is rejected.
func requestCommand(c *cli.Context) error {
	mdoc.SetupLogging(logging.NOTICE)

	uriPath := c.String("engagement")
	if uriPath == "" {
		return cli.NewExitError("reader request: --engagement is required", 1)
	}
	raw, err := ioutil.ReadFile(uriPath)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("reading engagement file: %s", err), 1)
	}

	parsed, err := mdoc.ParseEngagementURI(string(raw))
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("parsing engagement: %s", err), 1)
	}
	fmt.Fprintf(os.Stdout, "holder ident: %x (central=%v peripheral=%v)\n",
		parsed.Ident.Bytes(), parsed.SupportsCentral, parsed.SupportsPeripheral)

	payload, err := buildRequest("org.iso.18013.5.1.mDL", []string{"family_name", "portrait"})
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("encoding request: %s", err), 1)
	}

	// The reader runs whichever role is the mirror of the holder's: if the
	// holder advertises a peripheral, the reader connects as a central.
	if !parsed.SupportsPeripheral {
		return cli.NewExitError("reader request: holder did not advertise a peripheral role", 1)
	}

	cfg := mdoc.DefaultConfig()
	readerSession := mdoc.NewReaderSession(parsed.Ident, mdoc.CentralOnly)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout+cfg.ScanTimeout)
	defer cancel()

	obs := demoObserver{}
	facade := mdoc.NewReaderFacade(cfg, readerSession, obs)
	if err := facade.Start(ctx); err != nil {
		return cli.NewExitError(fmt.Sprintf("connecting: %s", err), 1)
	}
	if err := facade.Send(payload); err != nil {
		return cli.NewExitError(fmt.Sprintf("sending request: %s", err), 1)
	}

	respCtx, respCancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer respCancel()
	response, err := readerSession.Response(respCtx)
	if err != nil {
		return cli.NewExitError("timed out waiting for response", 1)
	}
	fmt.Fprintf(os.Stdout, "received %d byte response\n", len(response))

	facade.Terminate()
	return nil
}

// advertiseCommand exercises reverse engagement: the reader originates its
// own BLE advertisement instead of scanning a holder's QR (spec_full.md §4
// supplement #1), printing the engagement URI for the holder side to
// consume.
func advertiseCommand(c *cli.Context) error {
	mdoc.SetupLogging(logging.NOTICE)

	payload, err := buildRequest("org.iso.18013.5.1.mDL", []string{"family_name", "portrait"})
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("encoding request: %s", err), 1)
	}

	cfg := mdoc.DefaultConfig()
	readerSession, err := mdoc.NewReverseEngagementReaderSession(mdoc.PeripheralOnly)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("starting reverse engagement: %s", err), 1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout+cfg.ScanTimeout)
	defer cancel()

	obs := demoObserver{}
	facade := mdoc.NewReaderFacade(cfg, readerSession, obs)
	if err := facade.Start(ctx); err != nil {
		return cli.NewExitError(fmt.Sprintf("advertising: %s", err), 1)
	}
	if err := facade.Send(payload); err != nil {
		return cli.NewExitError(fmt.Sprintf("sending request: %s", err), 1)
	}

	respCtx, respCancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer respCancel()
	response, err := readerSession.Response(respCtx)
	if err != nil {
		return cli.NewExitError("timed out waiting for response", 1)
	}
	fmt.Fprintf(os.Stdout, "received %d byte response\n", len(response))

	facade.Terminate()
	return nil
}

type demoObserver struct{}

func (demoObserver) EngagingQR(uri []byte) {
	fmt.Fprintf(os.Stdout, "engaging: %s\n", string(uri))
}
func (demoObserver) Connected() { fmt.Fprintln(os.Stdout, "connected") }
func (demoObserver) SelectNamespaces(requests []mdoc.ItemsRequest) {}
func (demoObserver) UploadProgress(sent, total int) {
	fmt.Fprintf(os.Stdout, "upload progress %d/%d\n", sent, total)
}
func (demoObserver) Success(response []byte) {
	fmt.Fprintf(os.Stdout, "success: %d bytes received\n", len(response))
}
func (demoObserver) Error(message string) {
	fmt.Fprintf(os.Stderr, "error: %s\n", message)
}

func main() {
	app := cli.NewApp()
	app.Name = "mdoc-reader"
	app.Usage = "drive the reader side of an mdoc proximity presentation"
	app.Commands = []cli.Command{
		{
			Name:  "request",
			Usage: "scan a holder's device-engagement file and request family_name/portrait",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "engagement", Usage: "path to the scanned mdoc: engagement URI"},
			},
			Action: requestCommand,
		},
		{
			Name:  "advertise",
			Usage: "originate a reverse-engagement BLE advertisement and wait for a holder to connect",
			Action: advertiseCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
