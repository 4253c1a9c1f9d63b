// Command challengectl-enroll is the stateless-automated provisioning
// client (spec.md §4.3): it presents a pre-shared provisioning key to a
// running controller and writes the minted bearer credential to a file a
// transmitter/receiver agent reads on boot. Adapted from the teacher's
// cmd/captain-register (a small one-shot CLI that builds a request struct,
// posts it, and prints the result) generalized from a NATS publish to an
// HTTPS call against the new enrollment endpoint.
package main

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/CLIAIMONITOR/internal/types"
)

type provisionRequest struct {
	KeyID   string                   `json:"key_id"`
	Secret  string                   `json:"secret"`
	Kind    types.AgentKind          `json:"kind"`
	Host    types.HostIdentity       `json:"host"`
	Devices []types.DeviceDescriptor `json:"devices"`
}

type enrollResponse struct {
	AgentID    string    `json:"agent_id"`
	Credential string    `json:"credential"`
	IssuedAt   time.Time `json:"issued_at"`
}

func main() {
	controllerURL := flag.String("url", "https://127.0.0.1:8443", "Controller base URL")
	keyID := flag.String("key-id", "", "Provisioning key ID")
	secret := flag.String("secret", "", "Provisioning key secret")
	kind := flag.String("kind", string(types.AgentKindTransmitter), "Agent kind: transmitter or receiver")
	credOut := flag.String("out", "agent-credential.txt", "File to write the minted credential to")
	insecure := flag.Bool("insecure", false, "Skip TLS certificate verification (self-signed dev controllers)")
	flag.Parse()

	if *keyID == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "Usage: challengectl-enroll -url <controller> -key-id <id> -secret <secret> [-kind transmitter|receiver] [-out file]")
		os.Exit(1)
	}

	host, err := localHostIdentity()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to determine host identity: %v\n", err)
		os.Exit(1)
	}

	req := provisionRequest{
		KeyID:  *keyID,
		Secret: *secret,
		Kind:   types.AgentKind(*kind),
		Host:   host,
	}

	resp, err := provision(*controllerURL, req, *insecure)
	if err != nil {
		fmt.Fprintf(os.Stderr, "provisioning failed: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*credOut, []byte(resp.Credential), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write credential to %s: %v\n", *credOut, err)
		os.Exit(1)
	}

	fmt.Printf("provisioned agent %s, credential written to %s\n", resp.AgentID, *credOut)
}

func provision(baseURL string, req provisionRequest, insecure bool) (*enrollResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	if insecure {
		client.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}

	httpResp, err := client.Post(strings.TrimRight(baseURL, "/")+"/api/v1/provision", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("post provision request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("controller returned %s", httpResp.Status)
	}

	var resp enrollResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// localHostIdentity gathers this machine's identity tuple for host-binding
// (spec.md §4.2 "2-of-3" factor match): hostname always, plus machine-id
// on Linux when readable, plus the first non-loopback interface's MAC
// when one exists.
func localHostIdentity() (types.HostIdentity, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return types.HostIdentity{}, fmt.Errorf("hostname: %w", err)
	}
	h := types.HostIdentity{Hostname: hostname}
	if id, err := os.ReadFile("/etc/machine-id"); err == nil {
		h.MachineID = strings.TrimSpace(string(id))
	}
	if mac, err := primaryMAC(); err == nil {
		h.MAC = mac
	}
	return h, nil
}

// primaryMAC returns the first non-loopback interface's hardware address.
func primaryMAC() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String(), nil
	}
	return "", fmt.Errorf("no non-loopback interface found")
}
