package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	reindexType   string
	reindexKind   string
	reindexStart  string
	reindexEnd    string
	reindexUser   string
	reindexGroup  string
	reindexIDFile string
	reindexForce  bool
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Submit a bulk reindex job",
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]string{}
		switch reindexKind {
		case "date_range":
			params["start"] = reindexStart
			params["end"] = reindexEnd
		case "user":
			params["username"] = reindexUser
		case "group":
			params["group_id"] = reindexGroup
		case "ids":
			if reindexIDFile == "" {
				return fmt.Errorf("--ids-file is required for --selector=ids")
			}
			raw, err := os.ReadFile(reindexIDFile)
			if err != nil {
				return fmt.Errorf("read id list: %w", err)
			}
			params["annotation_ids"] = string(raw)
		default:
			return fmt.Errorf("unsupported selector kind %q", reindexKind)
		}

		body := map[string]any{
			"job_type":        reindexType,
			"selector_kind":   reindexKind,
			"selector_params": params,
			"force":           reindexForce,
		}
		data, status, err := apiRequest("POST", "/api/v1/reindex", body)
		if err != nil {
			return err
		}
		exitOnError(data, status)

		if outputJSON {
			printJSON(data)
			return nil
		}
		var resp struct {
			JobID string `json:"job_id"`
		}
		json.Unmarshal(data, &resp)
		fmt.Printf("Reindex job %s submitted\n", resp.JobID)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a reindex job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, status, err := apiRequest("GET", "/api/v1/reindex/"+args[0], nil)
		if err != nil {
			return err
		}
		exitOnError(data, status)

		if outputJSON {
			printJSON(data)
			return nil
		}
		var job map[string]interface{}
		json.Unmarshal(data, &job)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ID\t%v\n", job["id"])
		fmt.Fprintf(w, "State\t%v\n", job["state"])
		fmt.Fprintf(w, "Type\t%v\n", job["job_type"])
		fmt.Fprintf(w, "Matched\t%.0f\n", num(job["total_matched"]))
		fmt.Fprintf(w, "Processed\t%.0f\n", num(job["processed_count"]))
		fmt.Fprintf(w, "Skipped\t%.0f\n", num(job["skipped_count"]))
		fmt.Fprintf(w, "Errors\t%.0f\n", num(job["error_count"]))
		if msg, ok := job["error"].(string); ok && msg != "" {
			fmt.Fprintf(w, "Failure\t%s\n", msg)
		}
		w.Flush()
		return nil
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List reindex jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, status, err := apiRequest("GET", "/api/v1/reindex", nil)
		if err != nil {
			return err
		}
		exitOnError(data, status)

		if outputJSON {
			printJSON(data)
			return nil
		}
		var resp struct {
			Jobs []map[string]interface{} `json:"jobs"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return fmt.Errorf("decode job list: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATE\tTYPE\tMATCHED\tPROCESSED\tSKIPPED\tERRORS")
		for _, j := range resp.Jobs {
			fmt.Fprintf(w, "%v\t%v\t%v\t%.0f\t%.0f\t%.0f\t%.0f\n",
				j["id"], j["state"], j["job_type"],
				num(j["total_matched"]), num(j["processed_count"]),
				num(j["skipped_count"]), num(j["error_count"]),
			)
		}
		w.Flush()
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a running reindex job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, status, err := apiRequest("POST", "/api/v1/reindex/"+args[0]+"/cancel", nil)
		if err != nil {
			return err
		}
		exitOnError(data, status)
		fmt.Printf("Cancellation requested for job %s\n", args[0])
		return nil
	},
}

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed annotations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/search?q=" + url.QueryEscape(args[0]) + "&limit=" + strconv.Itoa(searchLimit)
		data, status, err := apiRequest("GET", path, nil)
		if err != nil {
			return err
		}
		exitOnError(data, status)

		if outputJSON {
			printJSON(data)
			return nil
		}
		var resp struct {
			Hits []struct {
				ID    string  `json:"id"`
				Score float64 `json:"score"`
			} `json:"hits"`
		}
		json.Unmarshal(data, &resp)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSCORE")
		for _, h := range resp.Hits {
			fmt.Fprintf(w, "%s\t%.4f\n", h.ID, h.Score)
		}
		w.Flush()
		return nil
	},
}

func num(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

func init() {
	reindexCmd.Flags().StringVar(&reindexType, "type", "full", "Document shape to build: full or slim")
	reindexCmd.Flags().StringVar(&reindexKind, "selector", "date_range", "Selector kind: date_range, user, group, or ids")
	reindexCmd.Flags().StringVar(&reindexStart, "start", "", "Inclusive lower bound (RFC3339) for --selector=date_range")
	reindexCmd.Flags().StringVar(&reindexEnd, "end", "", "Inclusive upper bound (RFC3339) for --selector=date_range")
	reindexCmd.Flags().StringVar(&reindexUser, "user", "", "Username for --selector=user")
	reindexCmd.Flags().StringVar(&reindexGroup, "group", "", "Group ID for --selector=group")
	reindexCmd.Flags().StringVar(&reindexIDFile, "ids-file", "", "File with one annotation ID per line for --selector=ids")
	reindexCmd.Flags().BoolVar(&reindexForce, "force", false, "Reindex records even when the index is already current")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum number of hits")

	addClientFlags(reindexCmd, statusCmd, jobsCmd, cancelCmd, searchCmd)
	rootCmd.AddCommand(reindexCmd, statusCmd, jobsCmd, cancelCmd, searchCmd)
}
