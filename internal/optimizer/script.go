package optimizer

// RuntimeScript returns the JavaScript snippet the advanced tier offers to
// consumers. At DOM-ready it observes offscreen-marked elements and, when
// one scrolls into view, removes the data-viewport marker and adds the
// optimizer-visible class. It never changes element identity or order; the
// consumer decides whether to embed it.
func RuntimeScript() string { return runtimeScript }

const runtimeScript = `(function () {
  'use strict';
  function reveal(el) {
    el.removeAttribute('data-viewport');
    el.classList.add('optimizer-visible');
  }
  function start() {
    var deferred = document.querySelectorAll('[data-viewport="offscreen"]');
    if (deferred.length === 0) return;
    if (typeof IntersectionObserver === 'undefined') {
      for (var i = 0; i < deferred.length; i++) reveal(deferred[i]);
      return;
    }
    var observer = new IntersectionObserver(function (entries) {
      for (var i = 0; i < entries.length; i++) {
        if (entries[i].isIntersecting) {
          reveal(entries[i].target);
          observer.unobserve(entries[i].target);
        }
      }
    }, { rootMargin: '200px 0px' });
    for (var i = 0; i < deferred.length; i++) observer.observe(deferred[i]);
  }
  if (document.readyState === 'loading') {
    document.addEventListener('DOMContentLoaded', start);
  } else {
    start();
  }
})();`
