package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sprl/lookup/internal/service"
	"github.com/sprl/lookup/pkg/blob"
	"github.com/sprl/lookup/pkg/config"
	"github.com/sprl/lookup/pkg/dataset"
	"github.com/sprl/lookup/pkg/identifier"
	"github.com/sprl/lookup/pkg/record"
)

// demoPrice is the USD/BTC price published with the demo dataset.
const demoPrice = 65000

var demoNames = []dataset.NameEntry{
	{
		Name:    "vitalik.eth",
		Address: "0xd8da6bf26964af9d7eed9e03e53415d37aa96045",
		Records: map[string]string{"url": "https://vitalik.ca", "com.twitter": "VitalikButerin"},
	},
	{
		Name:    "nick.eth",
		Address: "0xb8c2c29ee19d8307cb7255e1cd9cbde883a267d5",
		Records: map[string]string{"url": "https://ens.domains"},
	},
	{Name: "example.eth", Records: map[string]string{"description": "no address set"}},
}

var demoBalances = []dataset.BalanceEntry{
	{
		Address: "1BoatSLRHtKNngkdXEeobR76b53LETtpyT",
		Balance: 150000,
		Transactions: []record.Transaction{
			{Height: 100, Amount: 50000},
			{Height: 700000, Amount: 100000},
		},
	},
	{
		Address:      "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq",
		Balance:      2100000000,
		Transactions: []record.Transaction{{Height: 812345, Amount: 2100000000}},
	},
}

// loadDemo publishes the built-in records for p into memory and loads them.
func loadDemo(ctx context.Context, svc *service.LookupService, p config.Profile, logger *slog.Logger) error {
	b, err := dataset.NewBuilder(dataset.Config{
		Identifier:    p.Identifier(false),
		NameLayout:    p.NameLayout(),
		BalanceLayout: p.BalanceLayout(),
		Compression:   p.Compression,
		ItemSize:      p.ItemSize,
	}, logger)
	if err != nil {
		return err
	}

	if p.VariantValue() == identifier.Name {
		for _, e := range demoNames {
			if err := b.AddName(e); err != nil {
				return fmt.Errorf("demo name %s: %w", e.Name, err)
			}
		}
	} else {
		for _, e := range demoBalances {
			if err := b.AddBalance(e); err != nil {
				return fmt.Errorf("demo balance %s: %w", e.Address, err)
			}
		}
	}

	store := blob.NewMemoryStore()
	info, err := b.Publish(ctx, store, demoPrice)
	if err != nil {
		return err
	}
	if err := svc.LoadFrom(ctx, store, info); err != nil {
		return err
	}
	logger.Info("demo dataset loaded", "records", b.Len(), "height", info.Height)
	return nil
}
