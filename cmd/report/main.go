// Command report prints a trade history and P&L summary from the trade
// journal database. It is read-only and safe to run against a live DB.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"riskcore/internal/adapters/logger"
	"riskcore/internal/adapters/sqlite"
	"riskcore/internal/domain"
)

func main() {
	dbPath := flag.String("db", "./data/riskcore.db", "path to the trade journal database")
	limit := flag.Int("limit", 50, "maximum number of trades to list")
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("database not found at %s: %v", *dbPath, err)
	}

	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: *dbPath,
		Logger: logger.NewStdLogger(logger.LevelWarn),
	})
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	trades, err := repo.FindRecentTrades(ctx, *limit)
	if err != nil {
		log.Fatalf("failed to load trades: %v", err)
	}
	positions, err := repo.FindOpenPositions(ctx)
	if err != nil {
		log.Fatalf("failed to load positions: %v", err)
	}
	balances, err := repo.FindBalances(ctx)
	if err != nil {
		log.Fatalf("failed to load balances: %v", err)
	}

	renderBalances(balances)
	renderPositions(positions)
	renderTrades(trades)
	renderSummary(trades)
}

func renderBalances(balances []*domain.Balance) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("BALANCES")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Currency", "Total", "Free", "Used"})
	for _, b := range balances {
		t.AppendRow(table.Row{b.Currency, fmt.Sprintf("%.8f", b.Total), fmt.Sprintf("%.8f", b.Free), fmt.Sprintf("%.8f", b.Used)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	t.Render()
	fmt.Println()
}

func renderPositions(positions []*domain.Position) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("OPEN POSITIONS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Symbol", "Side", "Quantity", "Entry", "Stop", "Opened (UTC)"})
	for _, p := range positions {
		stop := "-"
		if p.StopLoss > 0 {
			stop = fmt.Sprintf("%.2f", p.StopLoss)
		}
		t.AppendRow(table.Row{
			p.Symbol, string(p.Side),
			fmt.Sprintf("%.6f", p.Quantity),
			fmt.Sprintf("%.2f", p.EntryPrice),
			stop,
			p.OpenedAt.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	if len(positions) == 0 {
		t.AppendRow(table.Row{"(none)", "", "", "", "", ""})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	t.Render()
	fmt.Println()
}

func renderTrades(trades []*domain.Trade) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("RECENT TRADES")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Symbol", "Side", "Quantity", "Entry", "Exit", "PnL", "Status", "Entered (UTC)"})
	for _, tr := range trades {
		exit, pnl := "-", "-"
		if tr.Status == domain.StatusClosed {
			exit = fmt.Sprintf("%.2f", tr.ExitPrice)
			pnl = fmt.Sprintf("%+.2f", tr.PnL)
		}
		t.AppendRow(table.Row{
			tr.ID, tr.Symbol, string(tr.Side),
			fmt.Sprintf("%.6f", tr.Quantity),
			fmt.Sprintf("%.2f", tr.EntryPrice),
			exit, pnl, string(tr.Status),
			tr.EntryTime.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	t.Render()
	fmt.Println()
}

func renderSummary(trades []*domain.Trade) {
	var closed, wins, losses int
	var totalPnL, winPnL, lossPnL float64
	for _, tr := range trades {
		if tr.Status != domain.StatusClosed {
			continue
		}
		closed++
		totalPnL += tr.PnL
		if tr.PnL > 0 {
			wins++
			winPnL += tr.PnL
		} else {
			losses++
			lossPnL += tr.PnL
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("SUMMARY")
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"Closed trades", closed},
		{"Wins / Losses", fmt.Sprintf("%d / %d", wins, losses)},
		{"Win rate", winRate(wins, closed)},
		{"Avg win", avg(winPnL, wins)},
		{"Avg loss", avg(lossPnL, losses)},
		{"Total PnL", fmt.Sprintf("%+.2f", totalPnL)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 15, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignRight},
	})
	t.Render()
}

func winRate(wins, closed int) string {
	if closed == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(wins)/float64(closed))
}

func avg(sum float64, n int) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprintf("%+.2f", sum/float64(n))
}
