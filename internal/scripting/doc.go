/*
Package scripting hosts application scripts that drive the request pipeline.

# Overview

A Host owns one goja runtime confined to the UI sequence. Scripts see a small
set of globals:

  - protocol: registerProtocol, unregisterProtocol, interceptProtocol,
    uninterceptProtocol, isProtocolHandled
  - RequestStringJob, RequestBufferJob, RequestFileJob, RequestErrorJob,
    RequestHttpJob: handler result descriptors
  - net.request: returns a ClientRequest event emitter; its "response" event
    yields an IncomingMessage
  - webRequest: onBeforeRequest and the other listener slots
  - session: enableNetworkEmulation, disableNetworkEmulation
  - console, setTimeout, clearTimeout
  - textEncode and textDecode, converting between strings and Uint8Array

# Threading

Every callback into the runtime happens on the UI sequence: protocol
handlers, request events, webRequest listeners and timers. Run and RunFile
hand a script to the UI sequence and wait, so they must not be called from
a UI task.

# Errors

Registry rejections are thrown as JavaScript errors. Exceptions escaping a
callback are logged and, for blocking webRequest listeners and protocol
handlers, answered with a neutral result so the request does not stall.
*/
package scripting
