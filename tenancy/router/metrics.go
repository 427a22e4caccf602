// Copyright 2025 LedgerLine
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package router

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	poolsLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledgerline_router_pools_live",
			Help: "Number of tenant connection pools currently held open",
		},
	)

	checkoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerline_router_checkouts_total",
			Help: "Connection checkouts by result",
		},
		[]string{"result"},
	)

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerline_router_evictions_total",
			Help: "Pool evictions by reason",
		},
		[]string{"reason"},
	)

	checkoutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledgerline_router_checkout_duration_seconds",
			Help:    "Time spent waiting for a tenant connection",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(poolsLive)
	prometheus.MustRegister(checkoutsTotal)
	prometheus.MustRegister(evictionsTotal)
	prometheus.MustRegister(checkoutDuration)
}
