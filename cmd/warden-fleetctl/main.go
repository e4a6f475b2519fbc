// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/thehotelbravo/warden/lib/clientid"
	"github.com/thehotelbravo/warden/lib/schema/fleet"
	"github.com/thehotelbravo/warden/lib/service"
	"github.com/thehotelbravo/warden/lib/version"
)

const defaultSocketPath = "/run/warden/fleet.sock"

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("warden-fleetctl", pflag.ContinueOnError)
	socketPath := flags.String("socket", defaultSocketPath, "fleet service socket path")
	requestor := flags.String("requestor", "", "requestor name for label mutations and restricted search")
	offset := flags.Int("offset", 0, "number of results to skip")
	count := flags.Int("count", 0, "maximum results to return (0 = no limit)")
	showVersion := flags.Bool("version", false, "print version and exit")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: warden-fleetctl [flags] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "commands:\n")
		fmt.Fprintf(os.Stderr, "  search <query>               search the fleet by keyword query\n")
		fmt.Fprintf(os.Stderr, "  get <client-id> [timestamp]  fetch a client record, optionally historical\n")
		fmt.Fprintf(os.Stderr, "  versions <client-id>         list recent snapshot versions\n")
		fmt.Fprintf(os.Stderr, "  interrogate <client-id>      trigger a re-interrogation\n")
		fmt.Fprintf(os.Stderr, "  last-ip <client-id>          report the client's last known address\n")
		fmt.Fprintf(os.Stderr, "  crashes <client-id>          list crash reports\n")
		fmt.Fprintf(os.Stderr, "  label add <name> <id>...     add a label to clients (needs --requestor)\n")
		fmt.Fprintf(os.Stderr, "  label remove <name> <id>...  remove a label from clients (needs --requestor)\n")
		fmt.Fprintf(os.Stderr, "  labels                       list label names in use\n")
		fmt.Fprintf(os.Stderr, "  status                       report service status\n\n")
		fmt.Fprintf(os.Stderr, "flags:\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		return 2
	}
	if *showVersion {
		version.Print("warden-fleetctl")
		return 0
	}
	args := flags.Args()
	if len(args) == 0 {
		flags.Usage()
		return 2
	}

	ctx := context.Background()
	client := service.NewClient(*socketPath)

	result, err := dispatch(ctx, client, args, *requestor, *offset, *count)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return print(result)
}

func dispatch(ctx context.Context, client *service.Client, args []string, requestor string, offset, count int) (any, error) {
	command, args := args[0], args[1:]
	switch command {
	case "search":
		query := ""
		if len(args) > 0 {
			query = args[0]
		}
		var response fleet.SearchClientsResponse
		request := fleet.SearchClientsRequest{Query: query, Offset: offset, Count: count}
		if err := client.Call(ctx, "clients/search", request, &response); err != nil {
			return nil, err
		}
		return response, nil

	case "get":
		if len(args) < 1 {
			return nil, fmt.Errorf("get: client id required")
		}
		id, err := clientid.Parse(args[0])
		if err != nil {
			return nil, err
		}
		request := fleet.GetClientRequest{ClientID: id}
		if len(args) > 1 {
			timestamp, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("get: timestamp: %w", err)
			}
			request.Timestamp = &timestamp
		}
		var response fleet.GetClientResponse
		if err := client.Call(ctx, "clients/get", request, &response); err != nil {
			return nil, err
		}
		return response, nil

	case "versions":
		id, err := parseID(args, "versions")
		if err != nil {
			return nil, err
		}
		var response fleet.VersionsResponse
		if err := client.Call(ctx, "clients/versions", fleet.VersionsRequest{ClientID: id}, &response); err != nil {
			return nil, err
		}
		return response, nil

	case "interrogate":
		id, err := parseID(args, "interrogate")
		if err != nil {
			return nil, err
		}
		var response fleet.InterrogateResponse
		request := fleet.InterrogateRequest{ClientID: id, Requestor: requestor}
		if err := client.Call(ctx, "clients/interrogate", request, &response); err != nil {
			return nil, err
		}
		return response, nil

	case "last-ip":
		id, err := parseID(args, "last-ip")
		if err != nil {
			return nil, err
		}
		var response fleet.LastIPResponse
		if err := client.Call(ctx, "clients/last-ip", fleet.LastIPRequest{ClientID: id}, &response); err != nil {
			return nil, err
		}
		return response, nil

	case "crashes":
		id, err := parseID(args, "crashes")
		if err != nil {
			return nil, err
		}
		var response fleet.CrashesResponse
		request := fleet.CrashesRequest{ClientID: id, Offset: offset, Count: count}
		if err := client.Call(ctx, "clients/crashes", request, &response); err != nil {
			return nil, err
		}
		return response, nil

	case "label":
		return mutateLabel(ctx, client, args, requestor)

	case "labels":
		var response fleet.ListLabelsResponse
		if err := client.Call(ctx, "clients/labels", nil, &response); err != nil {
			return nil, err
		}
		return response, nil

	case "status":
		var response fleet.StatusResponse
		if err := client.Call(ctx, "status", nil, &response); err != nil {
			return nil, err
		}
		return response, nil

	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}
}

func mutateLabel(ctx context.Context, client *service.Client, args []string, requestor string) (any, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("label: want add|remove, a label name, and at least one client id")
	}
	verb, name, rawIDs := args[0], args[1], args[2:]
	if requestor == "" {
		return nil, fmt.Errorf("label %s: --requestor is required", verb)
	}

	ids := make([]clientid.ID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := clientid.Parse(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	var action string
	var request any
	switch verb {
	case "add":
		action = "clients/labels/add"
		request = fleet.AddLabelsRequest{ClientIDs: ids, Labels: []string{name}, Requestor: requestor}
	case "remove":
		action = "clients/labels/remove"
		request = fleet.RemoveLabelsRequest{ClientIDs: ids, Labels: []string{name}, Requestor: requestor}
	default:
		return nil, fmt.Errorf("label: unknown verb %q", verb)
	}

	var response fleet.MutateLabelsResponse
	if err := client.Call(ctx, action, request, &response); err != nil {
		return nil, err
	}
	return response, nil
}

func parseID(args []string, command string) (clientid.ID, error) {
	if len(args) < 1 {
		return clientid.ID{}, fmt.Errorf("%s: client id required", command)
	}
	return clientid.Parse(args[0])
}

func print(result any) int {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: encode response: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}
