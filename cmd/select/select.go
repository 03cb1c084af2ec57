package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	polarhouse "github.com/polarhouse/gopolarhouse"
)

func main() {
	addr := flag.String("addr", "localhost:9000", "server address; host:port for native, http://host:port for HTTP")
	query := flag.String("query", "SELECT 1", "query to run")
	caching := flag.Bool("cache", false, "enable the persistent query cache")
	flat := flag.Bool("flat", false, "keep dotted-path columns flat")
	rows := flag.Int("rows", 10, "maximum rows to print")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		log.Println("caught signal, canceling...")
		cancel()
	}()

	opts := []polarhouse.Option{polarhouse.WithCaching(*caching)}
	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		opts = append(opts, polarhouse.WithCredentials(user, os.Getenv("CLICKHOUSE_PASSWORD")))
	}
	client, err := polarhouse.Connect(ctx, *addr, opts...)
	if err != nil {
		log.Fatalf("failed to connect to %v: %v", *addr, err)
	}
	defer client.Close()

	var qopts []polarhouse.QueryOption
	if *flat {
		qopts = append(qopts, polarhouse.WithFlatColumns())
	}
	res, err := client.GetDFQuery(ctx, *query, qopts...)
	if err != nil {
		log.Fatalf("query failed: %v", err)
	}

	fmt.Printf("%d rows, %d columns\n", res.NumRows(), res.NumColumns())
	for _, col := range res.Columns() {
		fmt.Printf("-- %s (%s)\n", col.Name, col.Type)
	}
	n := res.NumRows()
	if n > *rows {
		n = *rows
	}
	for i := 0; i < n; i++ {
		for _, col := range res.Columns() {
			fmt.Printf("%v\t", col.Value(i))
		}
		fmt.Println()
	}
}
