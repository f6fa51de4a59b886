// Package client is the Go SDK for the rentledger HTTP API.
//
// Basic usage:
//
//	c, err := client.New("http://localhost:8080", client.WithBearerToken(token))
//	if err != nil { ... }
//
//	id, err := c.CreateAgreement(ctx, client.CreateAgreementRequest{
//		Tenant:          "0xTenant",
//		MonthlyRent:     100,
//		SecurityDeposit: 500,
//		DurationDays:    365,
//		Value:           500,
//	})
//
//	err = c.PayRent(ctx, id, 100)
//
// Against a server running in open development mode, identify the caller
// with WithCaller instead of a token:
//
//	c, _ := client.New("http://localhost:8080", client.WithCaller("0xLandlord"))
//
// Errors returned by the server are *APIError values; use IsCode to match
// a specific ledger error code:
//
//	if client.IsCode(err, client.CodeAlreadyPaid) { ... }
package client
