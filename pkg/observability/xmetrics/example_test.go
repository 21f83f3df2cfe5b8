package xmetrics_test

import (
	"context"
	"fmt"

	"github.com/omeyang/xingest/pkg/observability/xmetrics"
)

func ExampleStart() {
	obs, err := xmetrics.NewOTelObserver()
	if err != nil {
		return
	}
	_, span := xmetrics.Start(context.Background(), obs, xmetrics.SpanOptions{
		Component: "xsink",
		Operation: "upsert",
		Kind:      xmetrics.KindClient,
		Attrs:     []xmetrics.Attr{xmetrics.Stream("orders")},
	})
	span.End(xmetrics.Result{Records: 100})
	fmt.Println(xmetrics.KindClient)
	// Output: Client
}
