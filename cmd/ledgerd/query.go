// query.go - Read-only lookups against the query service.
package main

import (
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"zerosync/internal/api"
	"zerosync/internal/query"
)

func newQueryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Look up committed blocks, transactions and records",
	}

	var (
		index string
		bkid  string
		hash  string
	)
	block := &cobra.Command{
		Use:   "block",
		Short: "Print a committed block, the latest one unless selected by a flag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := blockSpec(index, bkid, hash)
			if err != nil {
				return err
			}
			backend, err := newBackend(a)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			blk, err := backend.GetBlock(ctx, spec)
			if err != nil {
				return err
			}
			return printJSON(blk)
		},
	}
	block.Flags().StringVar(&index, "index", "", "Block index")
	block.Flags().StringVar(&bkid, "id", "", "Block id (BK~...)")
	block.Flags().StringVar(&hash, "hash", "", "Block content hash (HASH~...)")

	tx := &cobra.Command{
		Use:   "tx <TX~...>",
		Short: "Print a committed transaction with its proofs, uids and memos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := api.ParseTransactionID(args[0])
			if err != nil {
				return err
			}
			backend, err := newBackend(a)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			txn, err := backend.GetTransaction(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(txn)
		},
	}

	record := &cobra.Command{
		Use:   "record <TX~...> <output>",
		Short: "Print one output record of a committed transaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := api.ParseTransactionID(args[0])
			if err != nil {
				return err
			}
			output, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return errors.New("output must be a non-negative integer")
			}
			backend, err := newBackend(a)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			rec, err := backend.GetUnspentRecord(ctx, id, output)
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}

	cmd.AddCommand(block, tx, record)
	return cmd
}

// blockSpec builds the selector from at most one of the block flags.
func blockSpec(index, bkid, hash string) (query.BlockSpec, error) {
	set := 0
	for _, s := range []string{index, bkid, hash} {
		if s != "" {
			set++
		}
	}
	if set > 1 {
		return query.BlockSpec{}, errors.New("at most one of --index, --id and --hash may be given")
	}
	switch {
	case index != "":
		i, err := api.ParseBlockIndex(index)
		if err != nil {
			return query.BlockSpec{}, err
		}
		return query.AtIndex(i), nil
	case bkid != "":
		id, err := api.ParseBlockID(bkid)
		if err != nil {
			return query.BlockSpec{}, err
		}
		return query.ByID(id), nil
	case hash != "":
		h, err := api.ParseHash(hash)
		if err != nil {
			return query.BlockSpec{}, err
		}
		return query.ByHash(h), nil
	}
	return query.Latest(), nil
}
