// Command verify-signature checks an expo-signature header against a manifest body.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/DIMO-Network/updates-client/pkg/codesigning"
	"github.com/DIMO-Network/updates-client/pkg/server"
)

type result struct {
	Result  string                          `json:"result"`
	Project *codesigning.ProjectInformation `json:"project,omitempty"`
	Error   string                          `json:"error,omitempty"`
}

func main() {
	logger := server.DefaultLogger("verify-signature")

	certFile := flag.String("cert", "", "embedded code signing certificate (PEM)")
	chainFile := flag.String("chain", "", "certificate chain sent with the response (PEM), leaf first")
	bodyFile := flag.String("body", "", "signed manifest or directive body")
	signature := flag.String("signature", "", "expo-signature header value")
	keyID := flag.String("keyid", codesigning.DefaultKeyID, "expected key id")
	alg := flag.String("alg", string(codesigning.AlgorithmRSASHA256), "expected signature algorithm")
	includeChain := flag.Bool("include-chain", false, "trust the response chain rooted at the embedded certificate")
	flag.Parse()

	if *certFile == "" || *bodyFile == "" {
		flag.Usage()
		os.Exit(2)
	}
	certificate, err := os.ReadFile(*certFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Couldn't read certificate.")
	}
	body, err := os.ReadFile(*bodyFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Couldn't read body.")
	}
	var chain []byte
	if *chainFile != "" {
		if chain, err = os.ReadFile(*chainFile); err != nil {
			logger.Fatal().Err(err).Msg("Couldn't read certificate chain.")
		}
	}

	cfg, err := codesigning.NewConfiguration(string(certificate), codesigning.Metadata{KeyID: *keyID, Algorithm: *alg}, *includeChain, false,
		codesigning.WithLogger(*logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid code signing configuration.")
	}

	out := result{}
	res, err := cfg.ValidateSignature(context.Background(), *signature, body, string(chain))
	if err != nil {
		out.Result = "error"
		out.Error = err.Error()
	} else {
		out.Result = res.Result.String()
		out.Project = res.ProjectInformation
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if out.Result != codesigning.ValidationResultValid.String() {
		os.Exit(1)
	}
}
