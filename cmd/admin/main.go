package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/arcadia-cloud/tenant-split-backend/api/adminhandler"
	"github.com/arcadia-cloud/tenant-split-backend/api/migrationhandler"
)

var flagServerAddr *cli.StringFlag = &cli.StringFlag{
	Name:  "server-addr",
	Value: "http://127.0.0.1:8080",
	Usage: "Tenant split server address to request",
}
var flagAdmin *cli.StringFlag = &cli.StringFlag{
	Name:  "admin",
	Value: "root",
	Usage: "Admin identity sent as the caller",
}
var flagCaller *cli.StringFlag = &cli.StringFlag{
	Name:  "caller",
	Value: "",
	Usage: "Owner identity sent as the caller",
}
var flagAmount *cli.StringFlag = &cli.StringFlag{
	Name:  "amount",
	Value: "0",
	Usage: "Decimal amount",
}

func adminClient(cCtx *cli.Context) *adminhandler.Client {
	return &adminhandler.Client{
		ServerAddr: cCtx.String(flagServerAddr.Name),
		Admin:      cCtx.String(flagAdmin.Name),
	}
}

func migrationClient(cCtx *cli.Context) *migrationhandler.Client {
	return &migrationhandler.Client{
		ServerAddr: cCtx.String(flagServerAddr.Name),
		Caller:     cCtx.String(flagCaller.Name),
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	app := &cli.App{
		Name:           "tenant-split admin client",
		Usage:          "",
		DefaultCommand: "ledger-status",
		Commands: []*cli.Command{
			&cli.Command{
				Name:        "ledger-status",
				Usage:       "",
				Description: "Show the funding ledger and its alert level",
				Flags: []cli.Flag{
					flagServerAddr,
					flagAdmin,
				},
				Action: func(cCtx *cli.Context) error {
					status, err := adminClient(cCtx).LedgerStatus()
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
			&cli.Command{
				Name:        "add-reserve",
				Usage:       "",
				Description: "Credit the funding reserve",
				Flags: []cli.Flag{
					flagServerAddr,
					flagAdmin,
					flagAmount,
				},
				Action: func(cCtx *cli.Context) error {
					status, err := adminClient(cCtx).AddReserve(cCtx.String(flagAmount.Name))
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
			&cli.Command{
				Name:        "set-threshold",
				Usage:       "",
				Description: "Replace the minimum reserve threshold",
				Flags: []cli.Flag{
					flagServerAddr,
					flagAdmin,
					flagAmount,
				},
				Action: func(cCtx *cli.Context) error {
					status, err := adminClient(cCtx).SetThreshold(cCtx.String(flagAmount.Name))
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
			&cli.Command{
				Name:        "registry-list",
				Usage:       "",
				Description: "List registry entries by owner or by status",
				Flags: []cli.Flag{
					flagServerAddr,
					flagAdmin,
					&cli.StringFlag{
						Name:  "owner",
						Usage: "List entries belonging to this owner",
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "List entries in this lifecycle status",
					},
				},
				Action: func(cCtx *cli.Context) error {
					owner := cCtx.String("owner")
					status := cCtx.String("status")
					if (owner == "") == (status == "") {
						return fmt.Errorf("exactly one of --owner and --status is required")
					}

					client := adminClient(cCtx)
					if owner != "" {
						entries, err := client.ListByOwner(owner)
						if err != nil {
							return err
						}
						return printJSON(entries)
					}

					entries, err := client.ListByStatus(status)
					if err != nil {
						return err
					}
					return printJSON(entries)
				},
			},
			&cli.Command{
				Name:        "registry-get",
				Usage:       "",
				Description: "Show one registry entry by instance id",
				Flags: []cli.Flag{
					flagServerAddr,
					flagAdmin,
				},
				Action: func(cCtx *cli.Context) error {
					instanceID := cCtx.Args().First()
					if instanceID == "" {
						return fmt.Errorf("instance id argument is required")
					}

					entry, err := adminClient(cCtx).GetEntry(instanceID)
					if err != nil {
						return err
					}
					return printJSON(entry)
				},
			},
			&cli.Command{
				Name:        "registry-remove",
				Usage:       "",
				Description: "Drop an abandoned registry entry",
				Flags: []cli.Flag{
					flagServerAddr,
					flagAdmin,
				},
				Action: func(cCtx *cli.Context) error {
					instanceID := cCtx.Args().First()
					if instanceID == "" {
						return fmt.Errorf("instance id argument is required")
					}
					return adminClient(cCtx).RemoveEntry(instanceID)
				},
			},
			&cli.Command{
				Name:        "sweep-sessions",
				Usage:       "",
				Description: "Evict expired import sessions",
				Flags: []cli.Flag{
					flagServerAddr,
					flagAdmin,
				},
				Action: func(cCtx *cli.Context) error {
					evicted, err := adminClient(cCtx).SweepSessions()
					if err != nil {
						return err
					}
					fmt.Println(evicted)
					return nil
				},
			},
			&cli.Command{
				Name:        "migrate",
				Usage:       "",
				Description: "Run the caller's migration and print the result",
				Flags: []cli.Flag{
					flagServerAddr,
					flagCaller,
				},
				Action: func(cCtx *cli.Context) error {
					result, err := migrationClient(cCtx).RunMigration()
					if err != nil {
						return err
					}
					return printJSON(result)
				},
			},
			&cli.Command{
				Name:        "migration-status",
				Usage:       "",
				Description: "Show the caller's migration record",
				Flags: []cli.Flag{
					flagServerAddr,
					flagCaller,
				},
				Action: func(cCtx *cli.Context) error {
					result, err := migrationClient(cCtx).MigrationStatus()
					if err != nil {
						return err
					}
					return printJSON(result)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
