// Command booking-race-sim fires concurrent bookings for one slot at a running scheduling
// service and checks that exactly one of them wins.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/clinicsched/libs/auth"
	"github.com/md-rashed-zaman/clinicsched/libs/config"
	"github.com/md-rashed-zaman/clinicsched/libs/grpcx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const bookMethod = "/clinicsched.scheduling.v1.Scheduling/BookAppointment"

type bookRequest struct {
	PatientID      string `json:"patientId"`
	ProfessionalID string `json:"professionalId"`
	ServiceID      string `json:"serviceId,omitempty"`
	Date           string `json:"date"`
	StartTime      string `json:"startTime"`
	EndTime        string `json:"endTime,omitempty"`
}

type bookResponse struct {
	Appointment struct {
		ID string `json:"id"`
	} `json:"appointment"`
}

// booker attempts one booking and returns the outcome label ("booked" or a wire code).
type booker func(ctx context.Context, req bookRequest) string

func main() {
	var (
		mode     = flag.String("mode", config.String("MODE", "http"), "transport: http or grpc")
		baseURL  = flag.String("base-url", config.String("BASE_URL", "http://localhost:8085"), "scheduling service HTTP base url")
		grpcAddr = flag.String("grpc-addr", config.String("GRPC_ADDR", "localhost:9095"), "scheduling service gRPC address")
		org      = flag.String("org", config.String("ORGANIZATION_ID", ""), "organization id (sent as X-Organization-Id)")
		token    = flag.String("token", config.String("BEARER_TOKEN", ""), "bearer token; overrides -org when set")
		prof     = flag.String("professional", config.String("PROFESSIONAL_ID", ""), "professional id")
		patients = flag.String("patients", config.String("PATIENT_IDS", ""), "comma separated patient ids, used round-robin")
		service  = flag.String("service", config.String("SERVICE_ID", ""), "service id")
		date     = flag.String("date", config.String("DATE", time.Now().Add(24*time.Hour).Format("2006-01-02")), "YYYY-MM-DD")
		start    = flag.String("start", config.String("START_TIME", "10:00"), "HH:MM")
		end      = flag.String("end", config.String("END_TIME", ""), "HH:MM (optional)")
		n        = flag.Int("n", config.Int("CONCURRENCY", 20), "concurrent attempts")
		timeout  = flag.Duration("timeout", config.Duration("TIMEOUT", 15*time.Second), "overall timeout")
	)
	flag.Parse()

	if strings.TrimSpace(*prof) == "" || strings.TrimSpace(*patients) == "" {
		fatal("-professional and -patients are required")
	}
	if *token == "" && *org == "" {
		fatal("-org or -token is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var book booker
	switch *mode {
	case "http":
		book = httpBooker(strings.TrimRight(*baseURL, "/"), *org, *token)
	case "grpc":
		opts := grpcx.DialOptions{BearerToken: *token}
		if *token == "" {
			opts.OrganizationID = *org
		}
		conn, err := grpcx.Dial(*grpcAddr, opts)
		if err != nil {
			fatal(err.Error())
		}
		defer conn.Close()
		book = grpcBooker(conn)
	default:
		fatal("unknown -mode " + *mode)
	}

	ids := splitIDs(*patients)
	reqs := make([]bookRequest, *n)
	for i := range reqs {
		reqs[i] = bookRequest{
			PatientID:      ids[i%len(ids)],
			ProfessionalID: *prof,
			ServiceID:      *service,
			Date:           *date,
			StartTime:      *start,
			EndTime:        *end,
		}
	}

	tally := race(ctx, book, reqs)
	fmt.Print(tally.String())
	if tally["booked"] > 1 {
		fatal("double booking detected")
	}
}

func race(ctx context.Context, book booker, reqs []bookRequest) outcomes {
	results := make(chan string, len(reqs))
	gate := make(chan struct{})
	var wg sync.WaitGroup
	for _, req := range reqs {
		wg.Add(1)
		go func(req bookRequest) {
			defer wg.Done()
			<-gate
			results <- book(ctx, req)
		}(req)
	}
	close(gate)
	wg.Wait()
	close(results)

	tally := outcomes{}
	for r := range results {
		tally[r]++
	}
	return tally
}

type outcomes map[string]int

func (o outcomes) String() string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%d\n", k, o[k])
	}
	return b.String()
}

func httpBooker(baseURL, org, token string) booker {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context, req bookRequest) string {
		body, _ := json.Marshal(req)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/appointments", bytes.NewReader(body))
		if err != nil {
			return "client_error"
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Idempotency-Key", uuid.NewString())
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		} else {
			httpReq.Header.Set(auth.HeaderOrganizationID, org)
		}
		resp, err := client.Do(httpReq)
		if err != nil {
			return "transport_error"
		}
		defer resp.Body.Close()
		return httpOutcome(resp.StatusCode, resp.Body)
	}
}

func httpOutcome(status int, body io.Reader) string {
	if status == http.StatusCreated {
		return "booked"
	}
	var eb struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&eb); err != nil || eb.Error == "" {
		return fmt.Sprintf("http_%d", status)
	}
	return eb.Error
}

func grpcBooker(conn *grpc.ClientConn) booker {
	return func(ctx context.Context, req bookRequest) string {
		var out bookResponse
		if err := conn.Invoke(ctx, bookMethod, &req, &out); err != nil {
			return grpcOutcome(err)
		}
		return "booked"
	}
}

func grpcOutcome(err error) string {
	st := status.Convert(err)
	if code, _, ok := strings.Cut(st.Message(), ":"); ok && st.Code() != codes.Internal && st.Code() != codes.Unknown {
		return code
	}
	return "grpc_" + strings.ToLower(st.Code().String())
}

func splitIDs(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
