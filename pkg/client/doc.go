// Package client is the Go SDK for the audit ledger service.
//
// # Reading and verifying the chain
//
//	c, err := client.New("https://ledger.example.internal")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	v, err := c.Verify(ctx)
//	if !v.Intact {
//	    fmt.Printf("chain broken at %d: %s\n", *v.BrokenAt, v.Reason)
//	}
//
// # Recording an action
//
// Writes need an actor token (see 'ledgerctl token'):
//
//	c, _ := client.New(baseURL, client.WithBearerToken(token))
//	entry, err := c.Append(ctx, client.AppendRequest{
//	    Action:   "SHARE_EVIDENCE",
//	    Resource: "EV-2024-0042",
//	    Details:  map[string]any{"with": "forensics-lab"},
//	})
//
// A server running without a signing secret accepts development headers
// instead; use WithActor.
//
// # Chain of custody
//
//	rec, _ := c.Fingerprint(ctx, "EV-2024-0042/cctv.mp4", content, "sha256")
//	res, _ := c.VerifyCustody(ctx, rec.ID)
//	fmt.Println(res.Verified, res.Reference)
//
// # Following new entries
//
// Tail streams appended entries over a websocket until ctx is cancelled or
// the callback returns an error.
package client
