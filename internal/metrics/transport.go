// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransportPublished tracks envelopes published to the relay.
	TransportPublished = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "published_total",
			Help:      "Total number of envelopes published to the relay",
		},
		[]string{"status"}, // success, failure
	)

	// TransportDelivered tracks envelopes delivered from a subscription.
	TransportDelivered = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "delivered_total",
			Help:      "Total number of envelopes delivered to a subscriber",
		},
		[]string{"source"}, // live, history
	)

	// TransportReplayDropped tracks envelopes dropped by the replay guard.
	TransportReplayDropped = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "replay_dropped_total",
			Help:      "Total number of envelopes dropped by the replay guard",
		},
		[]string{"reason"}, // loopback, stale_nonce
	)

	// TransportReconnects tracks relay reconnect attempts.
	TransportReconnects = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Total number of relay reconnect attempts",
		},
		[]string{"status"}, // success, failure
	)

	// TransportBackoff tracks the current reconnect backoff duration.
	TransportBackoff = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnect_backoff_seconds",
			Help:      "Current reconnect backoff duration in seconds",
		},
	)

	// TransportSubscriptions tracks currently active channel subscriptions.
	TransportSubscriptions = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "subscriptions_active",
			Help:      "Number of currently active channel subscriptions",
		},
	)
)
