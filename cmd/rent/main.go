package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rentledger/rentledger/internal/identity"
	"github.com/rentledger/rentledger/internal/lease/model"
	"github.com/rentledger/rentledger/pkg/client"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	callerAs  string
	authToken string
	outFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rent",
	Short: "rentledger CLI",
	Long: `rent is the command-line interface for a rentledger server.

It creates agreements, pays rent, terminates agreements and inspects
the committed event log.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.rentledger")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("RENTLEDGER")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if callerAs == "" {
			callerAs = viper.GetString("caller")
		}
		if authToken == "" {
			authToken = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.rentledger/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "ledgerd URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&callerAs, "as", "", "caller address for servers in open mode")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "party token (Bearer)")
	rootCmd.PersistentFlags().StringVar(&outFormat, "format", "text", "Output format: text or json")

	rootCmd.AddCommand(createCmd, payCmd, terminateCmd, showCmd, listCmd, dueCmd, eventsCmd, tokenCmd, versionCmd)
}

func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if authToken != "" {
		opts = append(opts, client.WithBearerToken(authToken))
	}
	if callerAs != "" {
		opts = append(opts, client.WithCaller(callerAs))
	}
	return client.New(serverURL, opts...)
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid agreement id %q", s)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── create ───────────────────────────────────────────────────────────────────

var (
	createTenant   string
	createRent     int64
	createDeposit  int64
	createDuration int64
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an agreement with the caller as landlord",
	Long: `Create escrows the security deposit and starts the agreement at the
server's current time:

  rent create --as 0xLandlord --tenant 0xTenant --monthly-rent 100 --deposit 500 --days 365`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		id, err := c.CreateAgreement(context.Background(), client.CreateAgreementRequest{
			Tenant:          createTenant,
			MonthlyRent:     createRent,
			SecurityDeposit: createDeposit,
			DurationDays:    createDuration,
			Value:           createDeposit,
		})
		if err != nil {
			return fmt.Errorf("create agreement: %w", err)
		}
		if outFormat == "json" {
			return printJSON(map[string]uint64{"id": id})
		}
		fmt.Printf("Agreement %d created\n", id)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createTenant, "tenant", "", "Tenant address (required)")
	createCmd.Flags().Int64Var(&createRent, "monthly-rent", 0, "Rent due each 30-day period (required)")
	createCmd.Flags().Int64Var(&createDeposit, "deposit", 0, "Security deposit sent with the call (required)")
	createCmd.Flags().Int64Var(&createDuration, "days", 0, "Agreement duration in days (required)")
	_ = createCmd.MarkFlagRequired("tenant")
	_ = createCmd.MarkFlagRequired("monthly-rent")
	_ = createCmd.MarkFlagRequired("deposit")
	_ = createCmd.MarkFlagRequired("days")
}

// ── pay ──────────────────────────────────────────────────────────────────────

var payValue int64

var payCmd = &cobra.Command{
	Use:   "pay <id>",
	Short: "Pay one period of rent as the tenant",
	Long: `Pay forwards exactly one monthly rent to the landlord. Without --value
the agreement's monthly rent is looked up and sent.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		value := payValue
		if value == 0 {
			a, err := c.GetAgreement(ctx, id)
			if err != nil {
				return fmt.Errorf("look up rent: %w", err)
			}
			value = a.MonthlyRent
		}
		if err := c.PayRent(ctx, id, value); err != nil {
			return fmt.Errorf("pay rent: %w", err)
		}
		fmt.Printf("Paid %d on agreement %d\n", value, id)
		return nil
	},
}

func init() {
	payCmd.Flags().Int64Var(&payValue, "value", 0, "Amount to send (default: the monthly rent)")
}

// ── terminate ────────────────────────────────────────────────────────────────

var terminateReturnDeposit bool

var terminateCmd = &cobra.Command{
	Use:   "terminate <id>",
	Short: "Terminate an agreement and settle its deposit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		term, err := c.TerminateAgreement(context.Background(), id, terminateReturnDeposit)
		if err != nil {
			return fmt.Errorf("terminate agreement: %w", err)
		}
		if outFormat == "json" {
			return printJSON(term)
		}
		to := "landlord"
		if term.DepositReturnedToTenant {
			to = "tenant"
		}
		fmt.Printf("Agreement %d terminated by %s; deposit sent to %s\n", id, term.Initiator, to)
		return nil
	},
}

func init() {
	terminateCmd.Flags().BoolVar(&terminateReturnDeposit, "return-deposit", false, "Return the deposit to the tenant")
}

// ── show ─────────────────────────────────────────────────────────────────────

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an agreement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		a, err := c.GetAgreement(context.Background(), id)
		if err != nil {
			return fmt.Errorf("get agreement: %w", err)
		}
		if outFormat == "json" {
			return printJSON(a)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ID:\t%d\n", a.ID)
		fmt.Fprintf(w, "Landlord:\t%s\n", a.Landlord)
		fmt.Fprintf(w, "Tenant:\t%s\n", a.Tenant)
		fmt.Fprintf(w, "Monthly rent:\t%d\n", a.MonthlyRent)
		fmt.Fprintf(w, "Deposit:\t%d\n", a.SecurityDeposit)
		fmt.Fprintf(w, "Start:\t%s\n", formatTime(a.StartTime))
		fmt.Fprintf(w, "End:\t%s\n", formatTime(a.EndTime))
		fmt.Fprintf(w, "Active:\t%t\n", a.Active)
		fmt.Fprintf(w, "Last payment:\t%s\n", formatTime(a.LastPaymentTime))
		fmt.Fprintf(w, "Deposit settled:\t%t\n", a.DepositReturned)
		return w.Flush()
	},
}

func formatTime(unix int64) string {
	if unix == 0 {
		return "never"
	}
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

// ── list ─────────────────────────────────────────────────────────────────────

var listRole string

var listCmd = &cobra.Command{
	Use:   "list <address>",
	Short: "List agreement ids for a party",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		var ids []uint64
		switch listRole {
		case "landlord":
			ids, err = c.LandlordAgreements(ctx, args[0])
		case "tenant":
			ids, err = c.TenantAgreements(ctx, args[0])
		default:
			return fmt.Errorf("--role must be landlord or tenant, got %q", listRole)
		}
		if err != nil {
			return fmt.Errorf("list agreements: %w", err)
		}

		if outFormat == "json" {
			return printJSON(ids)
		}
		if len(ids) == 0 {
			fmt.Printf("%s has no agreements as %s\n", args[0], listRole)
			return nil
		}
		fmt.Println(strings.Join(lo.Map(ids, func(id uint64, _ int) string {
			return strconv.FormatUint(id, 10)
		}), " "))
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listRole, "role", "landlord", "Party role: landlord or tenant")
}

// ── due ──────────────────────────────────────────────────────────────────────

var dueCmd = &cobra.Command{
	Use:   "due <id>",
	Short: "Report whether rent is due for the current period",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		due, err := c.IsRentDue(context.Background(), id)
		if err != nil {
			return fmt.Errorf("check rent: %w", err)
		}
		if outFormat == "json" {
			return printJSON(map[string]bool{"due": due})
		}
		fmt.Println(lo.Ternary(due, "rent is due", "rent is not due"))
		return nil
	},
}

// ── events ───────────────────────────────────────────────────────────────────

var (
	eventsFrom   uint64
	eventsLimit  int
	eventsVerify bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List committed events or verify the event chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		if eventsVerify {
			status, err := c.VerifyEvents(ctx)
			if err != nil {
				return fmt.Errorf("verify events: %w", err)
			}
			if !status.Valid {
				return fmt.Errorf("event chain is broken: %s", status.Error)
			}
			fmt.Println("event chain is valid")
			return nil
		}

		page, err := c.Events(ctx, eventsFrom, eventsLimit)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		if outFormat == "json" {
			return printJSON(page)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTIME\tTYPE\tAGREEMENT\tPAYLOAD")
		for _, e := range page.Events {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", e.Seq, formatTime(e.Time), e.Type, e.AgreementID, e.Payload)
		}
		fmt.Fprintf(w, "\nroot: %s\n", page.Root)
		return w.Flush()
	},
}

func init() {
	eventsCmd.Flags().Uint64Var(&eventsFrom, "from", 0, "First sequence number")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 100, "Maximum number of events")
	eventsCmd.Flags().BoolVar(&eventsVerify, "verify", false, "Verify the chain instead of listing")
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenSecret string
	tokenIssuer string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <address>",
	Short: "Mint a party token from the shared secret (development)",
	Long: `Token signs a party token for address with the HMAC secret configured
on ledgerd as auth.jwt_secret. The secret may also come from the
RENTLEDGER_JWT_SECRET environment variable.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := lo.Ternary(tokenSecret != "", tokenSecret, viper.GetString("jwt_secret"))
		issuer, err := identity.NewTokenIssuer(secret, tokenIssuer, tokenTTL)
		if err != nil {
			return err
		}
		token, err := issuer.Issue(model.NormalizeAddress(args[0]))
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "HMAC secret shared with ledgerd")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "rentledger", "Token issuer; must match auth.issuer")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the rent CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rent %s (rentledger)\n", version)
	},
}
