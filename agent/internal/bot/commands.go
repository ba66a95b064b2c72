package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"callwatch/agent/database"
	"callwatch/agent/internal/messages"
	"callwatch/agent/internal/metrics"
	"callwatch/agent/internal/models"
	"callwatch/agent/internal/registry"
	"callwatch/agent/internal/services"
	"callwatch/agent/internal/userbot"
	"callwatch/shared/logger"

	"go.uber.org/zap"
)

const (
	adminsOnly  = "Admins only."
	historySize = 5
	testBotName = "test_bot"
)

// Registry is the admin-managed target registry.
type Registry interface {
	Add(ctx context.Context, kind models.TargetKind, id int64, label string) error
	Remove(ctx context.Context, kind models.TargetKind, id int64) error
	IDs(kind models.TargetKind) []int64
	Entries(kind models.TargetKind) []registry.Entry
	Len(kind models.TargetKind) int
	IsAdmin(userID int64) bool
}

// Userbots is the pool of posting accounts.
type Userbots interface {
	Add(ctx context.Context, cfg userbot.Config) error
	Reload(ctx context.Context, configs []userbot.Config) int
	Has(name string) bool
	Len() int
}

// Store is the storage the commands read and write.
type Store interface {
	AddKeyword(ctx context.Context, userID int64, keyword string) error
	RemoveKeyword(ctx context.Context, userID int64, keyword string) (bool, error)
	ListKeywords(ctx context.Context) ([]models.Keyword, error)
	UpsertHypotheticalAlert(ctx context.Context, a *models.Alert) error
	RecentCalls(ctx context.Context, userID int64, limit int) ([]models.UserCall, error)
	SetUptimeURL(ctx context.Context, url string) error
	GetUptime(ctx context.Context) (*models.UptimeConfig, error)
}

type StatsCalculator interface {
	Calculate(ctx context.Context, userID int64) services.Stats
}

// Request is one command sent to the management bot.
type Request struct {
	SenderID  int64
	ChatID    int64
	MessageID int
	Command   string
	Args      string
}

type handlerFunc func(ctx context.Context, req Request) string

type command struct {
	usage   string
	help    string
	handler handlerFunc
}

// Commands executes management bot commands.
type Commands struct {
	registry Registry
	bots     Userbots
	store    Store
	market   services.MarketDataProvider
	bonding  services.BondingProvider
	stats    StatsCalculator
	sessions func() []userbot.Config
	apiID    int
	apiHash  string
	now      func() time.Time
	log      *logger.Logger

	table map[string]command
	order []string
}

// CommandsConfig wires the dependencies of the command set. Sessions
// returns the userbots /reload_bots starts.
type CommandsConfig struct {
	Registry Registry
	Userbots Userbots
	Store    Store
	Market   services.MarketDataProvider
	Bonding  services.BondingProvider
	Stats    StatsCalculator
	Sessions func() []userbot.Config
	APIID    int
	APIHash  string
}

func NewCommands(cfg CommandsConfig, appLogger *logger.Logger) *Commands {
	c := &Commands{
		registry: cfg.Registry,
		bots:     cfg.Userbots,
		store:    cfg.Store,
		market:   cfg.Market,
		bonding:  cfg.Bonding,
		stats:    cfg.Stats,
		sessions: cfg.Sessions,
		apiID:    cfg.APIID,
		apiHash:  cfg.APIHash,
		now:      time.Now,
		log:      appLogger.Named("commands"),
		table:    make(map[string]command),
	}
	if c.sessions == nil {
		c.sessions = func() []userbot.Config { return nil }
	}

	c.register("add_chat", "{number}", "Track every call in a chat.", c.targetAdder(models.TargetChat, "add_chat", "Added chat", "Invalid chat ID."))
	c.register("remove_chat", "{number}", "Stop tracking a chat.", c.targetRemover(models.TargetChat, "remove_chat", "Removed chat", "Invalid chat ID."))
	c.register("add_user", "{number}", "Track a user's calls in any chat.", c.targetAdder(models.TargetUser, "add_user", "Added user", "Invalid user ID."))
	c.register("remove_user", "{number}", "Stop tracking a user.", c.targetRemover(models.TargetUser, "remove_user", "Removed user", "Invalid user ID."))
	c.register("register_channel", "{chat_id}", "Track every call in a channel.", c.targetAdder(models.TargetChat, "register_channel", "Registered channel", "Invalid chat ID."))
	c.register("monitor_channel", "{chat_id}", "Monitor a broadcast channel.", c.targetAdder(models.TargetChannel, "monitor_channel", "Monitoring channel", "Invalid chat ID."))
	c.register("set_channel_caller", "{chat_id} {name}", "Name the caller shown for a channel.", c.handleSetChannelCaller)
	c.register("add_bot", "{api_id} {api_hash} {session_string} {name}", "Start another userbot.", c.handleAddBot)
	c.register("list_targets", "", "Show tracked users, chats and channels.", c.handleListTargets)
	c.register("reload_bots", "", "Restart the userbots from the environment.", c.handleReloadBots)
	c.register("assign_bot", "{chat_id} {bot_name}", "Post a chat's alerts with a specific userbot.", c.handleAssignBot)
	c.register("unassign_bot", "{chat_id}", "Clear a chat's userbot.", c.handleUnassignBot)
	c.register("list_assignments", "", "Show userbot assignments.", c.handleListAssignments)
	c.register("add_keyword", "{user_id} {keyword}", "Alert when a user says a keyword.", c.handleAddKeyword)
	c.register("remove_keyword", "{user_id} {keyword}", "Remove a keyword.", c.handleRemoveKeyword)
	c.register("list_keywords", "", "Show all keywords.", c.handleListKeywords)
	c.register("add_admin", "{user_id}", "Allow a user to manage the bot.", c.targetAdder(models.TargetAdmin, "add_admin", "Added admin", "Invalid user ID."))
	c.register("list_configuration", "", "Show counts and the uptime URL.", c.handleListConfiguration)
	c.register("test", "{contract_address} {market_cap|bonded|hypothetical}", "Check lookups or plant a hypothetical alert.", c.handleTest)
	c.register("stats", "{user_id}", "Show a caller's hit rates.", c.handleStats)
	c.register("stats_history", "{user_id}", "Show a caller's last calls.", c.handleStatsHistory)
	c.register("set_uptime_url", "{url}", "Set the URL pinged every few minutes.", c.handleSetUptimeURL)
	c.register("help", "", "Show this help message.", c.handleHelp)
	return c
}

func (c *Commands) register(name, usage, help string, h handlerFunc) {
	c.table[name] = command{usage: usage, help: help, handler: h}
	c.order = append(c.order, name)
}

// Known reports whether name is a management command.
func (c *Commands) Known(name string) bool {
	_, ok := c.table[name]
	return ok
}

// Execute runs a command and returns the reply text. Unknown commands return
// an empty reply.
func (c *Commands) Execute(ctx context.Context, req Request) string {
	cmd, ok := c.table[req.Command]
	if !ok {
		return ""
	}
	metrics.CommandsHandled.WithLabelValues(req.Command).Inc()
	c.log.Info("Processing command",
		zap.String("command", req.Command),
		zap.String("args", redactArgs(req.Command, req.Args)),
		zap.Int64("chatID", req.ChatID),
		zap.Int64("userID", req.SenderID))

	if !c.registry.IsAdmin(req.SenderID) {
		c.log.Warn("Command rejected for non-admin", zap.String("command", req.Command), zap.Int64("userID", req.SenderID))
		return adminsOnly
	}
	return cmd.handler(ctx, req)
}

func (c *Commands) usage(name string) string {
	return strings.TrimSpace(fmt.Sprintf("Usage: /%s %s", name, c.table[name].usage))
}

func (c *Commands) failed(action string, err error) string {
	c.log.Error("Command failed", zap.String("action", action), zap.Error(err))
	return fmt.Sprintf("Failed to %s.", action)
}

func (c *Commands) targetAdder(kind models.TargetKind, name, done, invalid string) handlerFunc {
	return func(ctx context.Context, req Request) string {
		arg := strings.TrimSpace(req.Args)
		if arg == "" {
			return c.usage(name)
		}
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return invalid
		}
		if err := c.registry.Add(ctx, kind, id, ""); err != nil {
			return c.failed("save "+string(kind), err)
		}
		return fmt.Sprintf("%s %d", done, id)
	}
}

func (c *Commands) targetRemover(kind models.TargetKind, name, done, invalid string) handlerFunc {
	return func(ctx context.Context, req Request) string {
		arg := strings.TrimSpace(req.Args)
		if arg == "" {
			return c.usage(name)
		}
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return invalid
		}
		if err := c.registry.Remove(ctx, kind, id); err != nil {
			return c.failed("remove "+string(kind), err)
		}
		return fmt.Sprintf("%s %d", done, id)
	}
}

func (c *Commands) handleSetChannelCaller(ctx context.Context, req Request) string {
	args := splitArgs(req.Args, 2)
	if len(args) < 2 {
		return c.usage("set_channel_caller")
	}
	chatID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "Invalid chat ID."
	}
	if err := c.registry.Add(ctx, models.TargetCaller, chatID, args[1]); err != nil {
		return c.failed("save channel caller", err)
	}
	return fmt.Sprintf("Set caller for %d to %s", chatID, args[1])
}

func (c *Commands) handleAddBot(ctx context.Context, req Request) string {
	args := splitArgs(req.Args, 4)
	if len(args) < 4 {
		return c.usage("add_bot")
	}
	apiID, err := strconv.Atoi(args[0])
	if err != nil {
		return "Invalid API ID."
	}
	cfg := userbot.Config{Name: args[3], APIID: apiID, APIHash: args[1], Session: args[2]}
	if err := c.bots.Add(ctx, cfg); err != nil {
		c.log.Error("Failed to start userbot", zap.String("bot", cfg.Name), zap.Error(err))
		return fmt.Sprintf("Failed to start bot %s.", cfg.Name)
	}
	return fmt.Sprintf("Added bot %s", cfg.Name)
}

func (c *Commands) handleListTargets(_ context.Context, _ Request) string {
	return fmt.Sprintf("Target Users: %s\nTarget Chats: %s\nMonitored Channels: %s",
		formatIDs(c.registry.IDs(models.TargetUser)),
		formatIDs(c.registry.IDs(models.TargetChat)),
		formatIDs(c.registry.IDs(models.TargetChannel)))
}

func (c *Commands) handleReloadBots(ctx context.Context, _ Request) string {
	n := c.bots.Reload(ctx, c.sessions())
	return fmt.Sprintf("Reloaded %d bots", n)
}

func (c *Commands) handleAssignBot(ctx context.Context, req Request) string {
	args := splitArgs(req.Args, 2)
	if len(args) < 2 {
		return c.usage("assign_bot")
	}
	chatID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "Invalid chat ID."
	}
	name := args[1]
	if !c.bots.Has(name) {
		return fmt.Sprintf("Bot %s not found.", name)
	}
	if err := c.registry.Add(ctx, models.TargetAssignment, chatID, name); err != nil {
		return c.failed("save assignment", err)
	}
	return fmt.Sprintf("Assigned %s to %d", name, chatID)
}

func (c *Commands) handleUnassignBot(ctx context.Context, req Request) string {
	arg := strings.TrimSpace(req.Args)
	if arg == "" {
		return c.usage("unassign_bot")
	}
	chatID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return "Invalid chat ID."
	}
	if err := c.registry.Remove(ctx, models.TargetAssignment, chatID); err != nil {
		return c.failed("remove assignment", err)
	}
	return fmt.Sprintf("Unassigned bot from %d", chatID)
}

func (c *Commands) handleListAssignments(_ context.Context, _ Request) string {
	entries := c.registry.Entries(models.TargetAssignment)
	if len(entries) == 0 {
		return "Assignments:\nNo assignments."
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("Chat %d: %s", e.ID, e.Label))
	}
	return "Assignments:\n" + strings.Join(lines, "\n")
}

func (c *Commands) handleAddKeyword(ctx context.Context, req Request) string {
	args := splitArgs(req.Args, 2)
	if len(args) < 2 {
		return c.usage("add_keyword")
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "Invalid user_id."
	}
	if err := c.store.AddKeyword(ctx, userID, args[1]); err != nil {
		return c.failed("add keyword", err)
	}
	return fmt.Sprintf("Added keyword '%s' for user %d", args[1], userID)
}

func (c *Commands) handleRemoveKeyword(ctx context.Context, req Request) string {
	args := splitArgs(req.Args, 2)
	if len(args) < 2 {
		return c.usage("remove_keyword")
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "Invalid user_id."
	}
	if _, err := c.store.RemoveKeyword(ctx, userID, args[1]); err != nil {
		return c.failed("remove keyword", err)
	}
	return fmt.Sprintf("Removed keyword '%s' for user %d", args[1], userID)
}

func (c *Commands) handleListKeywords(ctx context.Context, _ Request) string {
	keywords, err := c.store.ListKeywords(ctx)
	if err != nil {
		return c.failed("list keywords", err)
	}
	if len(keywords) == 0 {
		return "Keywords:\nNo keywords."
	}
	lines := make([]string, 0, len(keywords))
	for _, k := range keywords {
		lines = append(lines, fmt.Sprintf("User %d: %s", k.UserID, k.Keyword))
	}
	return "Keywords:\n" + strings.Join(lines, "\n")
}

func (c *Commands) handleListConfiguration(ctx context.Context, _ Request) string {
	url := "None"
	row, err := c.store.GetUptime(ctx)
	switch {
	case err == nil && row.URL != "":
		url = row.URL
	case err != nil && !errors.Is(err, database.ErrNotFound):
		return c.failed("load uptime config", err)
	}
	return fmt.Sprintf("Target Users: %d\nTarget Chats: %d\nMonitored Channels: %d\nBots: %d\nUptime URL: %s",
		c.registry.Len(models.TargetUser),
		c.registry.Len(models.TargetChat),
		c.registry.Len(models.TargetChannel),
		c.bots.Len(),
		url)
}

func (c *Commands) handleTest(ctx context.Context, req Request) string {
	args := splitArgs(req.Args, 3)
	if len(args) < 2 {
		return c.usage("test")
	}
	address, kind := args[0], strings.ToLower(args[1])
	now := c.now()

	switch {
	case kind == "market_cap":
		snap := c.market.FetchMarketData(ctx, address, now)
		return fmt.Sprintf("Market Cap for %s: %s", address, messages.FormatMarketCap(snap.MarketCap))
	case kind == "bonded":
		status := c.bonding.FetchBondingStatus(ctx, address)
		label := "Not Bonded"
		if status.Bonded {
			label = "Bonded"
		}
		return fmt.Sprintf("Bonding Status for %s: %s (%.1f%%)", address, label, status.Progress)
	case kind == "hypothetical" && len(args) == 3:
		value, err := messages.ParseHumanAmount(args[2])
		if err != nil {
			return "Invalid value. Use e.g., 1m, 1b."
		}
		alert := &models.Alert{
			Address:          address,
			MessageID:        int64(req.MessageID),
			InitialMarketCap: value / 2,
			ChatID:           req.ChatID,
			BotName:          testBotName,
			CreatedAt:        now,
			CreationTime:     now,
			NextCheckAt:      now,
		}
		if err := c.store.UpsertHypotheticalAlert(ctx, alert); err != nil {
			return c.failed("store hypothetical alert", err)
		}
		return fmt.Sprintf("Set %s with hypothetical MC %s (initial %s).",
			address, messages.FormatMarketCap(value), messages.FormatMarketCap(value/2))
	}
	return "Invalid test type."
}

func (c *Commands) handleStats(ctx context.Context, req Request) string {
	arg := strings.TrimSpace(req.Args)
	if arg == "" {
		return c.usage("stats")
	}
	userID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return "Invalid user ID."
	}
	s := c.stats.Calculate(ctx, userID)
	return fmt.Sprintf("Stats for %d:\n5x Hit Rate: %.0f%%\n2x Hit Rate: %.0f%%\nMigration Rate: %.0f%%\nTotal Calls: %d",
		userID, s.HitRate5x, s.HitRate2x, s.MigrationRate, s.TotalCalls)
}

func (c *Commands) handleStatsHistory(ctx context.Context, req Request) string {
	arg := strings.TrimSpace(req.Args)
	if arg == "" {
		return c.usage("stats_history")
	}
	userID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return "Invalid user ID."
	}
	calls, err := c.store.RecentCalls(ctx, userID, historySize)
	if err != nil {
		return c.failed("load call history", err)
	}
	if len(calls) == 0 {
		return fmt.Sprintf("Recent calls for %d:\nNo history.", userID)
	}
	lines := make([]string, 0, len(calls))
	for _, call := range calls {
		lines = append(lines, fmt.Sprintf("%s at %s: %s",
			call.Address, call.CreatedAt.UTC().Format(time.RFC3339), messages.FormatMarketCap(call.InitialMarketCap)))
	}
	return fmt.Sprintf("Recent calls for %d:\n%s", userID, strings.Join(lines, "\n"))
}

func (c *Commands) handleSetUptimeURL(ctx context.Context, req Request) string {
	url := strings.TrimSpace(req.Args)
	if url == "" {
		return c.usage("set_uptime_url")
	}
	if err := c.store.SetUptimeURL(ctx, url); err != nil {
		return c.failed("save uptime URL", err)
	}
	return fmt.Sprintf("Set uptime URL to %s", url)
}

func (c *Commands) handleHelp(_ context.Context, _ Request) string {
	var b strings.Builder
	b.WriteString("Available commands:")
	for _, name := range c.order {
		cmd := c.table[name]
		line := "/" + name
		if cmd.usage != "" {
			line += " " + cmd.usage
		}
		fmt.Fprintf(&b, "\n%s - %s", line, cmd.help)
	}
	return b.String()
}

// splitArgs splits args on whitespace into at most n parts; the last part
// keeps the rest of the text.
func splitArgs(args string, n int) []string {
	var out []string
	rest := strings.TrimSpace(args)
	for rest != "" && len(out) < n-1 {
		i := strings.IndexFunc(rest, unicode.IsSpace)
		if i < 0 {
			break
		}
		out = append(out, rest[:i])
		rest = strings.TrimSpace(rest[i:])
	}
	if rest != "" {
		out = append(out, rest)
	}
	return out
}

func formatIDs(ids []int64) string {
	if len(ids) == 0 {
		return "none"
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}

// redactArgs hides the credentials passed to /add_bot.
func redactArgs(command, args string) string {
	if command != "add_bot" {
		return args
	}
	parts := splitArgs(args, 4)
	if len(parts) < 4 {
		return "[redacted]"
	}
	return parts[0] + " [redacted] [redacted] " + parts[3]
}
